package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/logger"
)

// Writer batches inserts into the history database so plane goroutines
// never wait on SQLite.
type Writer struct {
	db      *sql.DB
	mu      sync.Mutex
	batch   []WriteOp
	config  WriterConfig
	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	errMu   sync.Mutex
	lastErr error
	written int
}

// WriterConfig configures the database writer
type WriterConfig struct {
	BatchSize     int           // max operations per batch
	FlushInterval time.Duration // max time before flushing
}

// DefaultWriterConfig returns sensible defaults
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// WriteOp is one queued statement.
type WriteOp struct {
	Query string
	Args  []interface{}
}

// NewWriter creates a writer and starts its flush loop.
func NewWriter(db *sql.DB, config WriterConfig) *Writer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWriterConfig().BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	w := &Writer{
		db:      db,
		batch:   make([]WriteOp, 0, config.BatchSize),
		config:  config,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.flushLoop()

	return w
}

// Write queues an operation. It never blocks on the database.
func (w *Writer) Write(query string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, WriteOp{Query: query, Args: args})

	if len(w.batch) >= w.config.BatchSize {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush immediately writes all pending operations
func (w *Writer) Flush() error {
	w.mu.Lock()
	if len(w.batch) == 0 {
		w.mu.Unlock()
		return nil
	}

	ops := w.batch
	w.batch = make([]WriteOp, 0, w.config.BatchSize)
	w.mu.Unlock()

	err := w.executeBatch(ops)
	w.errMu.Lock()
	if err != nil {
		w.lastErr = err
	} else {
		w.written += len(ops)
	}
	w.errMu.Unlock()
	return err
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.flushAndLog()
			return
		case <-ticker.C:
			w.flushAndLog()
		case <-w.flushCh:
			w.flushAndLog()
		}
	}
}

func (w *Writer) flushAndLog() {
	if err := w.Flush(); err != nil {
		logger.Component("history").Error("history flush failed", zap.Error(err))
	}
}

// executeBatch executes all operations in a single transaction
func (w *Writer) executeBatch(ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			return fmt.Errorf("failed to execute operation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Written counts operations committed so far.
func (w *Writer) Written() int {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.written
}

// Close stops the writer, flushes pending operations and returns the last
// flush error, if any. It is safe to call more than once.
func (w *Writer) Close() error {
	w.once.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastErr
}
