// Package reqlog persists per-request diagnostics to SQLite with async
// batched writes. Recording is best-effort: the pipeline never blocks on it
// and a full queue drops records.
package reqlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/nghyane/restbridge/internal/logging"
	_ "modernc.org/sqlite"
)

// Record captures one completed request, replays included.
type Record struct {
	RequestID   string
	Method      string
	Path        string
	StatusCode  int
	ErrorCode   int
	Attempts    int
	Replayed    bool
	Silent      bool
	ElapsedMs   int64
	RequestedAt time.Time
}

// Recorder handles SQLite persistence for request records.
type Recorder struct {
	db            *sql.DB
	recordChan    chan Record
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopChan      chan struct{}
	batchSize     int
	retentionDays int
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetentionDays = 30
	channelBufferSize    = 1000
)

// NewRecorder opens (or creates) the request log database at dbPath and
// starts the background write and cleanup loops.
func NewRecorder(dbPath string) (*Recorder, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("reqlog: database path cannot be empty")
	}

	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("reqlog: failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("reqlog: failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("reqlog: failed to open database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err = initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reqlog: failed to initialize schema: %w", err)
	}

	r := &Recorder{
		db:            db,
		recordChan:    make(chan Record, channelBufferSize),
		flushTicker:   time.NewTicker(defaultFlushInterval),
		cleanupTicker: time.NewTicker(24 * time.Hour),
		stopChan:      make(chan struct{}),
		batchSize:     defaultBatchSize,
		retentionDays: defaultRetentionDays,
	}

	r.wg.Add(2)
	go r.writeLoop()
	go r.cleanupLoop()

	return r, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS request_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		error_code INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 1,
		replayed BOOLEAN NOT NULL DEFAULT 0,
		silent BOOLEAN NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		requested_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_request_requested_at ON request_records(requested_at);
	CREATE INDEX IF NOT EXISTS idx_request_path ON request_records(path);
	`
	_, err := db.Exec(schema)
	return err
}

// Enqueue adds a record to the persistence queue. Non-blocking.
func (r *Recorder) Enqueue(record Record) {
	if r == nil {
		return
	}
	select {
	case r.recordChan <- record:
	default:
		log.Warnf("reqlog: queue full, dropping record for %s %s", record.Method, record.Path)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	batch := make([]Record, 0, r.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.writeBatch(batch); err != nil {
			log.Errorf("reqlog: failed to write batch: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case record := <-r.recordChan:
			batch = append(batch, record)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-r.flushTicker.C:
			flush()
		case <-r.stopChan:
			for {
				select {
				case record := <-r.recordChan:
					batch = append(batch, record)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) writeBatch(records []Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO request_records (
			request_id, method, path, status_code, error_code,
			attempts, replayed, silent, elapsed_ms, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, record := range records {
		if _, err = stmt.ExecContext(ctx,
			record.RequestID,
			record.Method,
			record.Path,
			record.StatusCode,
			record.ErrorCode,
			record.Attempts,
			record.Replayed,
			record.Silent,
			record.ElapsedMs,
			record.RequestedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	return tx.Commit()
}

func (r *Recorder) cleanupLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.cleanupTicker.C:
			r.cleanup()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Recorder) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -r.retentionDays)
	res, err := r.db.Exec("DELETE FROM request_records WHERE requested_at < ?", cutoff)
	if err != nil {
		log.Errorf("reqlog: retention cleanup failed: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Debugf("reqlog: removed %d records older than %d days", n, r.retentionDays)
	}
}

// Count returns the number of stored records, for diagnostics and tests.
func (r *Recorder) Count() (int64, error) {
	var n int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM request_records").Scan(&n)
	return n, err
}

// Close flushes pending records and closes the database.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
	r.flushTicker.Stop()
	r.cleanupTicker.Stop()
	return r.db.Close()
}
