// Package buffered batches generated transactions before handing them to a sink.
package buffered

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

// DefaultBatchSize is the default number of transactions to buffer before flushing.
const DefaultBatchSize = 10

// DefaultFlushInterval is the default interval between automatic flushes.
const DefaultFlushInterval = 30 * time.Second

// shutdownFlushTimeout bounds the final flush after the input context is cancelled.
const shutdownFlushTimeout = 10 * time.Second

// Flusher persists one batch. A failed batch is kept and retried on the next flush.
type Flusher func(ctx context.Context, txns []*api.Transaction) error

// Config holds configuration for buffered writing.
type Config struct {
	// BatchSize is the number of transactions to buffer before flushing.
	// Defaults to DefaultBatchSize.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	// Defaults to DefaultFlushInterval.
	FlushInterval time.Duration
	// MaxPending caps how many unflushed transactions are retained after
	// repeated flush failures; the oldest are dropped beyond it.
	// Defaults to 100 batches.
	MaxPending int
}

// Writer buffers transactions and flushes them in batches. It implements api.Writer.
type Writer struct {
	mu      sync.Mutex
	pending []*api.Transaction
	flusher Flusher
	config  Config
	logger  *slog.Logger
}

// New creates a new buffered writer with the given flusher function.
func New(flusher Flusher, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = cfg.BatchSize * 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		pending: make([]*api.Transaction, 0, cfg.BatchSize),
		flusher: flusher,
		config:  cfg,
		logger:  logger,
	}
}

// Write consumes transactions until in is closed or ctx is cancelled,
// flushing on batch size, on every FlushInterval and once more on exit.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("buffered writer started",
		"batch_size", w.config.BatchSize,
		"flush_interval", w.config.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("buffered writer stopping, flushing remaining buffer")
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			err := w.Flush(flushCtx)
			cancel()
			if err != nil {
				w.logger.Error("failed to flush on shutdown", "error", err, "pending", w.Pending())
			}
			return ctx.Err()

		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("failed to flush on interval", "error", err, "pending", w.Pending())
			}

		case txn, ok := <-in:
			if !ok {
				w.logger.Info("input channel closed, flushing remaining buffer")
				if err := w.Flush(ctx); err != nil {
					return fmt.Errorf("flushing on close: %w", err)
				}
				return nil
			}
			if txn == nil {
				continue
			}
			if w.add(txn) {
				if err := w.Flush(ctx); err != nil {
					w.logger.Error("failed to flush on batch size", "error", err, "pending", w.Pending())
				}
			}
		}
	}
}

// add buffers txn and reports whether a full batch is ready.
func (w *Writer) add(txn *api.Transaction) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, txn)
	return len(w.pending) >= w.config.BatchSize
}

// Flush hands everything pending to the flusher in batches of BatchSize.
// Batches that fail stay pending, together with everything after them.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make([]*api.Transaction, 0, w.config.BatchSize)
	w.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), w.config.BatchSize)
		w.logger.Debug("flushing buffer", "count", n)

		if err := w.flusher(ctx, batch[:n]); err != nil {
			w.requeue(batch)
			return err
		}
		w.logger.Info("flushed transactions", "count", n)
		batch = batch[n:]
	}
	return nil
}

// requeue puts unflushed transactions back in front of anything buffered
// meanwhile, dropping the oldest beyond MaxPending.
func (w *Writer) requeue(unflushed []*api.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()

	merged := append(append(make([]*api.Transaction, 0, len(unflushed)+len(w.pending)), unflushed...), w.pending...)
	if over := len(merged) - w.config.MaxPending; over > 0 {
		w.logger.Warn("dropping unflushed transactions", "count", over)
		merged = merged[over:]
	}
	w.pending = merged
}

// Pending returns the number of transactions not yet flushed.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
