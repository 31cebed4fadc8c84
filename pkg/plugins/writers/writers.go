// Package writers holds the configuration shared by the export writer plugins.
package writers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Batching controls how a writer groups generated transactions before
// exporting them. FlushSeconds is read from "flushInterval".
type Batching struct {
	BatchSize    int `json:"batchSize,omitempty"`
	FlushSeconds int `json:"flushInterval,omitempty"`
	MaxPending   int `json:"maxPending,omitempty"`
}

// FlushInterval converts FlushSeconds to a duration. Zero keeps the writer default.
func (b Batching) FlushInterval() time.Duration {
	return time.Duration(b.FlushSeconds) * time.Second
}

// Validate rejects negative values.
func (b Batching) Validate() error {
	var errs []error
	if b.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batchSize must not be negative, got %d", b.BatchSize))
	}
	if b.FlushSeconds < 0 {
		errs = append(errs, fmt.Errorf("flushInterval must not be negative, got %d", b.FlushSeconds))
	}
	if b.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("maxPending must not be negative, got %d", b.MaxPending))
	}
	return errors.Join(errs...)
}

// Decode unmarshals a plugin config into dst. Unknown keys are an error so a
// misspelled option does not silently fall back to its default.
func Decode(plugin string, raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("unmarshaling %s config: %w", plugin, err)
	}
	return nil
}

// Schema builds an object schema from the plugin's own properties plus the
// batching options every writer accepts.
func Schema(properties map[string]any, required ...string) map[string]any {
	props := map[string]any{
		"batchSize": map[string]any{
			"type":        "integer",
			"description": "Transactions exported per write (default: 10)",
			"default":     10,
			"minimum":     0,
		},
		"flushInterval": map[string]any{
			"type":        "integer",
			"description": "Seconds before a partial batch is exported (default: 30)",
			"default":     30,
			"minimum":     0,
		},
		"maxPending": map[string]any{
			"type":        "integer",
			"description": "Unexported transactions kept while the destination is failing (default: 100 batches)",
			"minimum":     0,
		},
	}
	maps.Copy(props, properties)

	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
