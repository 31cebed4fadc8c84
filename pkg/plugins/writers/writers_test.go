package writers

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fileConfig struct {
	FilePath string `json:"filePath"`
	Batching
}

func TestDecode(t *testing.T) {
	var cfg fileConfig
	err := Decode("csv", json.RawMessage(`{"filePath":"out.csv","batchSize":5,"flushInterval":2,"maxPending":40}`), &cfg)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cfg.FilePath != "out.csv" || cfg.BatchSize != 5 || cfg.MaxPending != 40 {
		t.Errorf("decoded %+v", cfg)
	}
	if cfg.FlushInterval() != 2*time.Second {
		t.Errorf("FlushInterval() = %v", cfg.FlushInterval())
	}
}

func TestDecode_Empty(t *testing.T) {
	var cfg fileConfig
	if err := Decode("csv", nil, &cfg); err != nil {
		t.Fatalf("Decode(nil) error = %v", err)
	}
	if cfg.FlushInterval() != 0 {
		t.Errorf("FlushInterval() = %v, want 0", cfg.FlushInterval())
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	var cfg fileConfig
	err := Decode("csv", json.RawMessage(`{"file_path":"out.csv"}`), &cfg)
	if err == nil || !strings.Contains(err.Error(), "unmarshaling csv config") {
		t.Fatalf("Decode() error = %v, want unknown field error", err)
	}
}

func TestBatching_Validate(t *testing.T) {
	if err := (Batching{BatchSize: 1}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	err := Batching{BatchSize: -1, FlushSeconds: -2}.Validate()
	if err == nil || !strings.Contains(err.Error(), "batchSize") || !strings.Contains(err.Error(), "flushInterval") {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSchema(t *testing.T) {
	s := Schema(map[string]any{"filePath": map[string]any{"type": "string"}}, "filePath")

	props := s["properties"].(map[string]any)
	for _, key := range []string{"filePath", "batchSize", "flushInterval", "maxPending"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %q", key)
		}
	}
	if req := s["required"].([]string); len(req) != 1 || req[0] != "filePath" {
		t.Errorf("required = %v", req)
	}
}
