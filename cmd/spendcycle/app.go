package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArionMiles/spendcycle/internal/plugins"
	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/client"
	"github.com/ArionMiles/spendcycle/pkg/config"
	"github.com/ArionMiles/spendcycle/pkg/logging"
	csvplugin "github.com/ArionMiles/spendcycle/pkg/plugins/writers/csv"
	jsonplugin "github.com/ArionMiles/spendcycle/pkg/plugins/writers/json"
	sheetsplugin "github.com/ArionMiles/spendcycle/pkg/plugins/writers/sheets"
	"github.com/ArionMiles/spendcycle/pkg/store/memory"
	"github.com/ArionMiles/spendcycle/pkg/store/postgres"
	"github.com/ArionMiles/spendcycle/pkg/store/sqlite"
)

// store is what every backend provides to the commands.
type store interface {
	api.RuleStore
	api.TransactionStore
	CreateRule(ctx context.Context, rule api.RecurringRule) (api.RecurringRule, error)
	Close() error
}

// app carries what every command shares after config is loaded.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

// newFlagSet returns a flag set with the shared -config flag bound to path.
func newFlagSet(name string, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(path, "config", "", "optional JSON config file")
	return fs
}

// loadApp loads and validates configuration and rebuilds the logger from it.
func loadApp(path string) (*app, error) {
	a, err := loadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return a, nil
}

// loadUnvalidated is loadApp for commands that report problems themselves.
func loadUnvalidated(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(logging.FromValues(cfg.LogLevel, cfg.LogFormat))
	return &app{cfg: cfg, logger: logger}, nil
}

// openStore opens the configured store. A read-only open neither creates the
// SQLite file nor applies migrations.
func (a *app) openStore(ctx context.Context, readOnly bool) (store, error) {
	logger := a.logger.With("component", "store", "store", a.cfg.Store)

	switch a.cfg.Store {
	case config.StorePostgres:
		pg := a.cfg.Postgres
		s, err := postgres.New(ctx, postgres.Config{
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,

			SkipMigrations: readOnly,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreSQLite:
		openSQLite := sqlite.Open
		if readOnly {
			openSQLite = sqlite.OpenReadOnly
		}
		s, err := openSQLite(a.cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store, nothing will be persisted")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

func newRegistry() (*plugins.Registry, error) {
	return plugins.NewRegistry(
		&csvplugin.Plugin{},
		&jsonplugin.Plugin{},
		&sheetsplugin.Plugin{},
	)
}

// oauthConfig returns the client config for the given scopes.
func (a *app) oauthConfig(scopes []string) client.Config {
	return client.Config{
		SecretFile: a.cfg.ClientSecretFile,
		TokenFile:  a.cfg.TokenFile,
		Scopes:     scopes,
	}
}

// buildWriter creates the configured export writer, or nil when export is off.
func (a *app) buildWriter(ctx context.Context) (api.Writer, error) {
	if a.cfg.WriterPlugin == "" {
		return nil, nil
	}

	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}

	scopes, err := registry.Scopes(a.cfg.WriterPlugin)
	if err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if len(scopes) > 0 {
		httpClient, err = client.New(ctx, a.oauthConfig(scopes))
		if err != nil {
			return nil, fmt.Errorf("creating http client: %w", err)
		}
	}

	writer, err := registry.CreateWriter(ctx, a.cfg.WriterPlugin, httpClient, a.cfg.WriterConfigJSON(),
		a.logger.With("component", "writer", "plugin", a.cfg.WriterPlugin))
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", a.cfg.WriterPlugin, err)
	}
	return writer, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// parseFlags treats -h as a clean exit.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return err
	}
	return nil
}
