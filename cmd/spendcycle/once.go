package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ArionMiles/spendcycle/internal/daemon"
	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/processor"
)

// runOnce runs a single pass and prints the per-profile results as JSON.
// A non-nil error is returned when any profile or rule failed.
func runOnce(args []string) error {
	var (
		configPath string
		date       string
		profiles   string
		rulesPath  string
	)
	fs := newFlagSet("once", &configPath)
	fs.StringVar(&date, "date", "", "reference date (YYYY-MM-DD), defaults to today in UTC")
	fs.StringVar(&profiles, "profiles", "", "comma separated profiles, overrides SPENDCYCLE_PROFILES")
	fs.StringVar(&rulesPath, "rules", "", "JSON array of rules to add to the store before the pass")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if profiles != "" {
		if err := os.Setenv("SPENDCYCLE_PROFILES", profiles); err != nil {
			return err
		}
	}

	ref := api.Today()
	if date != "" {
		var err error
		if ref, err = api.ParseDate(date); err != nil {
			return err
		}
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

	if rulesPath != "" {
		if err := importRules(ctx, st, rulesPath); err != nil {
			return err
		}
	}

	writer, err := a.buildWriter(ctx)
	if err != nil {
		return err
	}

	proc := processor.New(st, st, processor.Config{CallTimeout: a.cfg.CallTimeout},
		a.logger.With("component", "processor"))
	runner := daemon.New(proc, writer, daemon.Config{Profiles: a.cfg.Profiles},
		a.logger.With("component", "daemon"))

	results, passErr := runner.RunOnce(ctx, ref)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	errs := []error{passErr}
	for _, res := range results {
		if err := res.Err(); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", res.ProfileID, err))
		}
	}
	return errors.Join(errs...)
}

func importRules(ctx context.Context, st store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}

	var rules []api.RecurringRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parsing rules %s: %w", path, err)
	}

	for _, rule := range rules {
		if _, err := st.CreateRule(ctx, rule); err != nil && !errors.Is(err, api.ErrRuleExists) {
			return fmt.Errorf("importing rule %s: %w", rule.ID, err)
		}
	}
	return nil
}
