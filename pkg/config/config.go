// Package config loads spendcycle settings from an optional JSON file and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Defaults applied by Load when a key is unset.
const (
	DefaultStore            = StoreSQLite
	DefaultSQLitePath       = "data/spendcycle.db"
	DefaultInterval         = time.Hour
	DefaultCallTimeout      = 10 * time.Second
	DefaultClientSecretFile = "data/client_secret.json"
	DefaultTokenFile        = "data/token.json"
)

const writerConfigKey = "SPENDCYCLE_WRITER_CONFIG"

// Config holds the application configuration.
type Config struct {
	// Profiles are the profile ids processed on every pass.
	// Environment variable: SPENDCYCLE_PROFILES (comma separated)
	Profiles []string `koanf:"SPENDCYCLE_PROFILES"`

	// Store selects the rule and transaction backend: postgres, sqlite or memory.
	// Environment variable: SPENDCYCLE_STORE
	Store string `koanf:"SPENDCYCLE_STORE"`

	// Interval is the pause between daemon passes.
	// Environment variable: SPENDCYCLE_INTERVAL
	Interval time.Duration `koanf:"SPENDCYCLE_INTERVAL"`

	// CallTimeout bounds each store call made by the processor.
	// Environment variable: SPENDCYCLE_CALL_TIMEOUT
	CallTimeout time.Duration `koanf:"SPENDCYCLE_CALL_TIMEOUT"`

	// WriterPlugin names the export sink for created transactions. Empty disables export.
	// Environment variable: SPENDCYCLE_WRITER
	WriterPlugin string `koanf:"SPENDCYCLE_WRITER"`

	// WriterConfig is the JSON configuration for the writer plugin.
	// Environment variable: SPENDCYCLE_WRITER_CONFIG
	WriterConfig string `koanf:"SPENDCYCLE_WRITER_CONFIG"`

	// SQLitePath is the database file used by the sqlite store.
	// Environment variable: SQLITE_PATH
	SQLitePath string `koanf:"SQLITE_PATH"`

	// ClientSecretFile is the Google OAuth credentials JSON file.
	// Environment variable: GOOGLE_CLIENT_SECRET_FILE
	ClientSecretFile string `koanf:"GOOGLE_CLIENT_SECRET_FILE"`

	// TokenFile is where the Google OAuth token is cached.
	// Environment variable: GOOGLE_TOKEN_FILE
	TokenFile string `koanf:"GOOGLE_TOKEN_FILE"`

	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"`

	Postgres PostgresConfig `koanf:",squash"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// Load reads the JSON file at path (skipped when path is empty), then lets
// environment variables override it.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	// A config file may carry the writer config as an object instead of a string.
	if cfg.WriterConfig == "" {
		if nested, ok := k.Get(writerConfigKey).(map[string]any); ok {
			b, err := json.Marshal(nested)
			if err != nil {
				return Config{}, fmt.Errorf("encoding %s: %w", writerConfigKey, err)
			}
			cfg.WriterConfig = string(b)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	profiles := make([]string, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		// A single env value may still hold commas when loaded from a file.
		for _, part := range strings.Split(p, ",") {
			part = strings.TrimSpace(part)
			if part != "" && !slices.Contains(profiles, part) {
				profiles = append(profiles, part)
			}
		}
	}
	c.Profiles = profiles

	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ClientSecretFile == "" {
		c.ClientSecretFile = DefaultClientSecretFile
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
}

// WriterConfigJSON returns the writer config as raw JSON, or nil when unset.
func (c Config) WriterConfigJSON() json.RawMessage {
	if strings.TrimSpace(c.WriterConfig) == "" {
		return nil
	}
	return json.RawMessage(c.WriterConfig)
}

// Validate reports every missing or invalid setting.
func (c Config) Validate() error {
	var errs []error

	if len(c.Profiles) == 0 {
		errs = append(errs, errors.New("SPENDCYCLE_PROFILES is required"))
	}
	if c.Interval < 0 {
		errs = append(errs, errors.New("SPENDCYCLE_INTERVAL must be positive"))
	}
	if c.CallTimeout < 0 {
		errs = append(errs, errors.New("SPENDCYCLE_CALL_TIMEOUT must be positive"))
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.Postgres.Host == "" {
			errs = append(errs, errors.New("POSTGRES_HOST is required for the postgres store"))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, errors.New("POSTGRES_DB is required for the postgres store"))
		}
		if c.Postgres.User == "" {
			errs = append(errs, errors.New("POSTGRES_USER is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want postgres, sqlite or memory)", c.Store))
	}

	if raw := c.WriterConfigJSON(); raw != nil && !json.Valid(raw) {
		errs = append(errs, errors.New("SPENDCYCLE_WRITER_CONFIG is not valid JSON"))
	}

	return errors.Join(errs...)
}
