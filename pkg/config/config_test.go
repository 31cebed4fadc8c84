package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"SPENDCYCLE_PROFILES", "SPENDCYCLE_STORE", "SPENDCYCLE_INTERVAL", "SPENDCYCLE_CALL_TIMEOUT",
	"SPENDCYCLE_WRITER", "SPENDCYCLE_WRITER_CONFIG", "SQLITE_PATH",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSLMODE",
	"GOOGLE_CLIENT_SECRET_FILE", "GOOGLE_TOKEN_FILE", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPENDCYCLE_PROFILES", "alice, bob,alice,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !slices.Equal(cfg.Profiles, []string{"alice", "bob"}) {
		t.Errorf("Profiles = %v, want [alice bob]", cfg.Profiles)
	}
	if cfg.Store != StoreSQLite {
		t.Errorf("Store = %q, want %q", cfg.Store, StoreSQLite)
	}
	if cfg.SQLitePath != DefaultSQLitePath {
		t.Errorf("SQLitePath = %q, want %q", cfg.SQLitePath, DefaultSQLitePath)
	}
	if cfg.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", cfg.Interval)
	}
	if cfg.CallTimeout != 10*time.Second {
		t.Errorf("CallTimeout = %v, want 10s", cfg.CallTimeout)
	}
	if cfg.Postgres.Port != 5432 || cfg.Postgres.SSLMode != "disable" {
		t.Errorf("Postgres defaults = %+v", cfg.Postgres)
	}
	if cfg.WriterConfigJSON() != nil {
		t.Errorf("WriterConfigJSON() = %s, want nil", cfg.WriterConfigJSON())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPENDCYCLE_PROFILES", "p1")
	t.Setenv("SPENDCYCLE_STORE", "Postgres")
	t.Setenv("SPENDCYCLE_INTERVAL", "15m")
	t.Setenv("SPENDCYCLE_CALL_TIMEOUT", "3s")
	t.Setenv("SPENDCYCLE_WRITER", "csv")
	t.Setenv("SPENDCYCLE_WRITER_CONFIG", `{"filePath":"out.csv"}`)
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("POSTGRES_DB", "spend")
	t.Setenv("POSTGRES_USER", "app")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store != StorePostgres {
		t.Errorf("Store = %q, want postgres", cfg.Store)
	}
	if cfg.Interval != 15*time.Minute || cfg.CallTimeout != 3*time.Second {
		t.Errorf("durations = %v / %v", cfg.Interval, cfg.CallTimeout)
	}
	if cfg.Postgres.Host != "db" || cfg.Postgres.Port != 6543 || cfg.Postgres.Database != "spend" {
		t.Errorf("Postgres = %+v", cfg.Postgres)
	}
	if got := string(cfg.WriterConfigJSON()); got != `{"filePath":"out.csv"}` {
		t.Errorf("WriterConfigJSON() = %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"SPENDCYCLE_PROFILES": ["home", "work"],
		"SPENDCYCLE_STORE": "memory",
		"SPENDCYCLE_WRITER": "json",
		"SPENDCYCLE_WRITER_CONFIG": {"filePath": "txns.json"},
		"LOG_LEVEL": "debug"
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !slices.Equal(cfg.Profiles, []string{"home", "work"}) {
		t.Errorf("Profiles = %v", cfg.Profiles)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want env override warn", cfg.LogLevel)
	}
	if got := string(cfg.WriterConfigJSON()); got != `{"filePath":"txns.json"}` {
		t.Errorf("WriterConfigJSON() = %s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		{
			name:    "missing profiles",
			cfg:     Config{Store: StoreMemory},
			wantErr: []string{"SPENDCYCLE_PROFILES is required"},
		},
		{
			name:    "unknown store",
			cfg:     Config{Profiles: []string{"p"}, Store: "mongo"},
			wantErr: []string{`unknown store "mongo"`},
		},
		{
			name: "postgres missing fields",
			cfg:  Config{Profiles: []string{"p"}, Store: StorePostgres},
			wantErr: []string{
				"POSTGRES_HOST is required",
				"POSTGRES_DB is required",
				"POSTGRES_USER is required",
			},
		},
		{
			name:    "invalid writer config",
			cfg:     Config{Profiles: []string{"p"}, Store: StoreMemory, WriterConfig: "{oops"},
			wantErr: []string{"SPENDCYCLE_WRITER_CONFIG is not valid JSON"},
		},
		{
			name: "valid sqlite",
			cfg:  Config{Profiles: []string{"p"}, Store: StoreSQLite, SQLitePath: "x.db"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}
