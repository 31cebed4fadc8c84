// Package csv registers the CSV export writer.
package csv

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/plugins/writers"
	csvwriter "github.com/ArionMiles/spendcycle/pkg/writer/csv"
)

// Config is the "csv" writer config.
type Config struct {
	FilePath string `json:"filePath"`
	writers.Batching
}

// Plugin exports generated transactions as CSV rows.
type Plugin struct{}

func (p *Plugin) Name() string { return "csv" }

func (p *Plugin) Description() string {
	return "Append one row per generated recurring transaction to a CSV file"
}

// RequiredScopes returns nil; the file is local.
func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return writers.Schema(map[string]any{
		"filePath": map[string]any{
			"type":        "string",
			"description": "CSV file to append to, created with a header row (" + strings.Join(csvwriter.Header, ", ") + ")",
		},
	}, "filePath")
}

func (p *Plugin) NewWriter(_ context.Context, _ *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := writers.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return csvwriter.New(csvwriter.Config{
		FilePath:      cfg.FilePath,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		MaxPending:    cfg.MaxPending,
	}, logger)
}
