package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// ConfigureOutput routes log output either to stdout or to a size-rotated
// file under dir/logs. Switching back to stdout closes the open file.
func ConfigureOutput(toFile bool, dir string) error {
	writerMu.Lock()
	defer writerMu.Unlock()

	if toFile {
		logDir := "logs"
		if dir != "" {
			logDir = filepath.Join(dir, "logs")
		}
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		if logWriter != nil {
			_ = logWriter.Close()
		}
		logWriter = &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "restbridge.log"),
			MaxSize:    10,
			MaxBackups: 0,
			MaxAge:     0,
			Compress:   false,
		}
		SetOutput(logWriter)
		return nil
	}

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	SetOutput(os.Stdout)
	return nil
}

func init() {
	RegisterExitHandler(func() {
		writerMu.Lock()
		defer writerMu.Unlock()
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
	})
}
