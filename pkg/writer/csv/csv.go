// Package csv implements a Writer that appends generated transactions to a CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/writer/buffered"
)

// Header is the first row written to an empty file.
var Header = []string{
	"Date", "Amount", "Account", "Category", "Subcategory", "Description",
	"Profile", "Rule", "Transaction",
}

// Writer writes transactions to a CSV file with buffered batching.
type Writer struct {
	filePath string
	file     *os.File
	writer   *csv.Writer
	mu       sync.Mutex
	buffered *buffered.Writer
	logger   *slog.Logger
}

// Config holds configuration for the CSV writer.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
	// MaxPending caps the backlog kept across failed flushes.
	MaxPending int
}

// New opens (or creates) the CSV file and writes the header if it is empty.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("csv file path is required")
	}

	if dir := filepath.Dir(cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating csv directory: %w", err)
		}
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	w := &Writer{
		filePath: cfg.FilePath,
		file:     file,
		writer:   csv.NewWriter(file),
		logger:   logger,
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if stat.Size() == 0 {
		if err := w.writeRows([][]string{Header}); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxPending:    cfg.MaxPending,
	}, logger.With("component", "csv_buffer"))

	logger.Info("csv writer initialized", "file", cfg.FilePath)
	return w, nil
}

// Write consumes transactions until in closes or ctx is cancelled, then closes the file.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	defer w.Close()
	return w.buffered.Write(ctx, in)
}

// Record renders a transaction as a CSV row matching Header.
func Record(t *api.Transaction) []string {
	return []string{
		t.Date.String(),
		t.Amount.StringFixed(2),
		t.AccountID,
		deref(t.CategoryID),
		deref(t.SubcategoryID),
		t.Description,
		t.ProfileID,
		t.RecurringRuleID,
		t.ID,
	}
}

func (w *Writer) flushBatch(_ context.Context, txns []*api.Transaction) error {
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, Record(t))
	}
	if err := w.writeRows(rows); err != nil {
		return err
	}

	w.logger.Debug("wrote transactions to csv", "count", len(txns))
	return nil
}

func (w *Writer) writeRows(rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.WriteAll(rows); err != nil {
		return fmt.Errorf("writing csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the CSV file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}

	w.logger.Info("csv writer closed", "file", w.filePath)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
