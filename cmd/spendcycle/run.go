package main

import (
	"fmt"

	"github.com/ArionMiles/spendcycle/internal/daemon"
	"github.com/ArionMiles/spendcycle/pkg/processor"
)

// runDaemon processes every configured profile on an interval until interrupted.
func runDaemon(args []string) error {
	var configPath string
	fs := newFlagSet("run", &configPath)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := loadApp(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(a.logger)
	defer cancel()

	st, err := a.openStore(ctx, false)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	writer, err := a.buildWriter(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("configuration loaded",
		"profiles", a.cfg.Profiles,
		"store", a.cfg.Store,
		"writer", a.cfg.WriterPlugin,
		"interval", a.cfg.Interval,
	)

	proc := processor.New(st, st, processor.Config{CallTimeout: a.cfg.CallTimeout},
		a.logger.With("component", "processor"))

	runner := daemon.New(proc, writer, daemon.Config{
		Profiles: a.cfg.Profiles,
		Interval: a.cfg.Interval,
	}, a.logger.With("component", "daemon"))

	return runner.Run(ctx)
}
