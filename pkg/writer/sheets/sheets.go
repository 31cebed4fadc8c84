// Package sheets implements a Writer that appends generated transactions to Google Sheets.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/writer/buffered"
)

// Scope is the OAuth scope the writer needs.
const Scope = sheets.SpreadsheetsScope

// Default retry settings for rate-limited appends.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 60 * time.Second
)

// Header is written to the first row of a new sheet.
var Header = []any{"Date", "Amount", "Account", "Category", "Subcategory", "Description", "Rule", "Transaction"}

// Writer writes transactions to a Google Sheet with buffered batching.
type Writer struct {
	client        *sheets.Service
	spreadsheetID string
	sheetName     string
	retryAttempts uint
	retryDelay    time.Duration
	logger        *slog.Logger
	buffered      *buffered.Writer
}

// Config holds configuration for the Sheets writer.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string
	// SheetName is the name of the sheet within the spreadsheet.
	SheetName string
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
	// MaxPending caps the backlog kept across failed flushes.
	MaxPending int
	// RetryAttempts and RetryDelay control retries of HTTP 429 responses.
	RetryAttempts uint
	RetryDelay    time.Duration
	// Endpoint overrides the Sheets API base URL.
	Endpoint string
}

// New creates a Sheets writer, creating the spreadsheet when SheetID is
// empty or cannot be opened.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetName == "" {
		return nil, errors.New("sheet name is required")
	}
	if cfg.SheetID == "" && cfg.SheetTitle == "" {
		return nil, errors.New("either sheet id or sheet title is required")
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	w := &Writer{
		client:        client,
		sheetName:     cfg.SheetName,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        logger,
	}

	w.spreadsheetID, err = w.initSpreadsheet(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxPending:    cfg.MaxPending,
	}, logger.With("component", "sheets_buffer"))

	logger.Info("sheets writer initialized", "spreadsheet_id", w.spreadsheetID, "sheet", cfg.SheetName)
	return w, nil
}

func (w *Writer) initSpreadsheet(ctx context.Context, cfg Config) (string, error) {
	if cfg.SheetID != "" {
		spreadsheet, err := w.client.Spreadsheets.Get(cfg.SheetID).Context(ctx).Do()
		if err == nil {
			w.logger.Info("using existing spreadsheet", "title", spreadsheet.Properties.Title, "id", cfg.SheetID)
			return spreadsheet.SpreadsheetId, nil
		}
		if cfg.SheetTitle == "" {
			return "", fmt.Errorf("opening spreadsheet %s: %w", cfg.SheetID, err)
		}
		w.logger.Warn("failed to get spreadsheet, will create new one", "id", cfg.SheetID, "error", err)
	}

	spreadsheet, err := w.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: cfg.SheetTitle},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: cfg.SheetName}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet", "title", cfg.SheetTitle, "id", spreadsheet.SpreadsheetId)

	headerRange := fmt.Sprintf("%s!A1:H1", cfg.SheetName)
	_, err = w.client.Spreadsheets.Values.Update(spreadsheet.SpreadsheetId, headerRange, &sheets.ValueRange{
		Values: [][]any{Header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("writing headers: %w", err)
	}

	return spreadsheet.SpreadsheetId, nil
}

// Write consumes transactions until in closes or ctx is cancelled.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	w.logger.Info("sheets writer started")
	return w.buffered.Write(ctx, in)
}

// Row renders a transaction as a sheet row matching the header.
func Row(t *api.Transaction) []any {
	row := []any{t.Date.String(), t.Amount.StringFixed(2), t.AccountID, "", "", t.Description, t.RecurringRuleID, t.ID}
	if t.CategoryID != nil {
		row[3] = *t.CategoryID
	}
	if t.SubcategoryID != nil {
		row[4] = *t.SubcategoryID
	}
	return row
}

// flushBatch appends a batch in a single API call, retrying rate limits.
func (w *Writer) flushBatch(ctx context.Context, txns []*api.Transaction) error {
	values := make([][]any, 0, len(txns))
	for _, t := range txns {
		values = append(values, Row(t))
	}

	writeRange := fmt.Sprintf("%s!A2:H2", w.sheetName)
	req := &sheets.ValueRange{Values: values}

	err := retry.Do(
		func() error {
			_, err := w.client.Spreadsheets.Values.Append(w.spreadsheetID, writeRange, req).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		retry.RetryIf(isRateLimited),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("rate limited, will retry", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
		retry.Attempts(w.retryAttempts),
		retry.Delay(w.retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("appending batch to sheet: %w", err)
	}

	w.logger.Info("wrote transaction batch", "count", len(txns), "first_rule_id", txns[0].RecurringRuleID)
	return nil
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

// SpreadsheetID returns the ID of the spreadsheet being written to.
func (w *Writer) SpreadsheetID() string {
	return w.spreadsheetID
}
