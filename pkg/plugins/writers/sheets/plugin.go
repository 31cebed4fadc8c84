// Package sheets registers the Google Sheets export writer.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/plugins/writers"
	sheetswriter "github.com/ArionMiles/spendcycle/pkg/writer/sheets"
)

// Config is the "sheets" writer config. Either SheetID names an existing
// spreadsheet or SheetTitle is used to create one.
type Config struct {
	SheetID    string `json:"sheetId,omitempty"`
	SheetTitle string `json:"sheetTitle,omitempty"`
	SheetName  string `json:"sheetName"`
	writers.Batching
}

// Plugin appends generated transactions to a Google Sheet.
type Plugin struct{}

func (p *Plugin) Name() string { return "sheets" }

func (p *Plugin) Description() string {
	return "Append generated recurring transactions to a Google Sheet (requires 'spendcycle setup')"
}

// RequiredScopes returns the scope the setup command must request.
func (p *Plugin) RequiredScopes() []string {
	return []string{sheetswriter.Scope}
}

func (p *Plugin) ConfigSchema() map[string]any {
	return writers.Schema(map[string]any{
		"sheetId": map[string]any{
			"type":        "string",
			"description": "Existing spreadsheet to append to",
		},
		"sheetTitle": map[string]any{
			"type":        "string",
			"description": "Title of the spreadsheet created when sheetId is empty",
		},
		"sheetName": map[string]any{
			"type":        "string",
			"description": fmt.Sprintf("Tab receiving the rows; a new spreadsheet gets the header %v", sheetswriter.Header),
		},
	}, "sheetName")
}

func (p *Plugin) NewWriter(ctx context.Context, httpClient *http.Client, raw json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	if httpClient == nil {
		return nil, errors.New("sheets writer requires an authenticated http client (run setup first)")
	}

	var cfg Config
	if err := writers.Decode(p.Name(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.SheetName == "" {
		return nil, errors.New("sheetName is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return sheetswriter.New(ctx, httpClient, sheetswriter.Config{
		SheetTitle:    cfg.SheetTitle,
		SheetID:       cfg.SheetID,
		SheetName:     cfg.SheetName,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		MaxPending:    cfg.MaxPending,
	}, logger)
}
