// Package json registers the JSON file export writer.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/plugins/writers"
	jsonwriter "github.com/ArionMiles/spendcycle/pkg/writer/json"
)

// Config is the "json" writer config.
type Config struct {
	FilePath string `json:"filePath"`
	writers.Batching
}

// Plugin keeps generated transactions in a JSON array, one entry per
// transaction id.
type Plugin struct{}

func (p *Plugin) Name() string { return "json" }

func (p *Plugin) Description() string {
	return "Keep every generated recurring transaction in a JSON array file, deduplicated by id"
}

func (p *Plugin) RequiredScopes() []string { return nil }

func (p *Plugin) ConfigSchema() map[string]any {
	return writers.Schema(map[string]any{
		"filePath": map[string]any{
			"type":        "string",
			"description": "JSON file holding the transaction array; rewritten atomically on each flush",
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

	return jsonwriter.New(jsonwriter.Config{
		FilePath:      cfg.FilePath,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		MaxPending:    cfg.MaxPending,
	}, logger)
}
