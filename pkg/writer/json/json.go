// Package json implements a Writer that keeps generated transactions in a JSON array file.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/writer/buffered"
)

// Writer writes transactions to a JSON file with buffered batching.
type Writer struct {
	filePath     string
	transactions []*api.Transaction
	seen         map[string]struct{}
	mu           sync.Mutex
	buffered     *buffered.Writer
	logger       *slog.Logger
}

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
	// MaxPending caps the backlog kept across failed flushes.
	MaxPending int
}

// New creates a JSON writer, loading any transactions already in the file.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("json file path is required")
	}

	w := &Writer{
		filePath: cfg.FilePath,
		seen:     make(map[string]struct{}),
		logger:   logger,
	}

	if err := w.loadExisting(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.FilePath, err)
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxPending:    cfg.MaxPending,
	}, logger.With("component", "json_buffer"))

	logger.Info("json writer initialized", "file", cfg.FilePath, "existing_count", len(w.transactions))
	return w, nil
}

func (w *Writer) loadExisting() error {
	data, err := os.ReadFile(w.filePath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &w.transactions); err != nil {
		return err
	}
	for _, t := range w.transactions {
		if t.ID != "" {
			w.seen[t.ID] = struct{}{}
		}
	}
	return nil
}

// Write consumes transactions until in closes or ctx is cancelled.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

// flushBatch appends the batch and rewrites the whole file through a
// temporary file so readers never see a partial array.
func (w *Writer) flushBatch(_ context.Context, txns []*api.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	all := w.transactions
	added := 0
	for _, t := range txns {
		if _, dup := w.seen[t.ID]; dup && t.ID != "" {
			continue
		}
		all = append(all, t)
		added++
	}
	if added == 0 {
		return nil
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	tmp := w.filePath + ".tmp"
	if dir := filepath.Dir(w.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating json directory: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	if err := os.Rename(tmp, w.filePath); err != nil {
		return fmt.Errorf("replacing json file: %w", err)
	}

	w.transactions = all
	for _, t := range txns {
		if t.ID != "" {
			w.seen[t.ID] = struct{}{}
		}
	}

	w.logger.Debug("wrote transactions to json",
		"batch_count", added,
		"total_count", len(w.transactions),
	)
	return nil
}

// TransactionCount returns the total number of transactions in the file.
func (w *Writer) TransactionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.transactions)
}
