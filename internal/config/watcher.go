package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/nghyane/restbridge/internal/logging"
)

// reloadDebounce absorbs editor write bursts; atomic replaces may surface as
// Rename followed by Create on some platforms.
const reloadDebounce = 150 * time.Millisecond

// Watcher hot-reloads the configuration file and hands the parsed result to
// a callback. Reloads are skipped when the file content hash is unchanged.
type Watcher struct {
	path     string
	onReload func(*Config)

	watcher *fsnotify.Watcher

	mu          sync.Mutex
	reloadTimer *time.Timer
	lastHash    string
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fsWatcher,
	}, nil
}

// Start begins watching and processes events until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := os.Stat(w.path); err != nil {
		log.Infof("config file %s not found, hot reload disabled", w.path)
		return nil
	}
	if err := w.watcher.Add(w.path); err != nil {
		log.Errorf("failed to watch config file %s: %v", w.path, err)
		return err
	}
	log.Debugf("watching config file: %s", w.path)

	go w.processEvents(ctx)
	return nil
}

// Stop cancels any pending reload and closes the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relevantOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if event.Name != w.path || event.Op&relevantOps == 0 {
		return
	}
	log.Debugf("config file event: %s %s", event.Op.String(), event.Name)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		log.Errorf("config reload: failed to read %s: %v", w.path, err)
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	w.mu.Lock()
	unchanged := hash == w.lastHash
	w.lastHash = hash
	w.mu.Unlock()
	if unchanged {
		log.Debug("config reload skipped: content unchanged")
		return
	}

	cfg, err := LoadConfig(w.path)
	if err != nil {
		log.Errorf("config reload: %v", err)
		return
	}
	log.Infof("config reloaded from %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
