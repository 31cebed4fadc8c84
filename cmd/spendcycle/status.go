package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/client"
	"github.com/ArionMiles/spendcycle/pkg/store/sqlite"
)

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// runStatus checks the configuration, store and export credentials.
func runStatus(args []string) error {
	var configPath string
	fs := newFlagSet("status", &configPath)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	fmt.Println("=== spendcycle status ===")
	fmt.Println()

	a, err := loadUnvalidated(configPath)
	if err != nil {
		fmt.Printf("Config: ✗ %v\n", err)
		printFinalStatus(false)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	allGood := checkConfig(a)
	if allGood {
		allGood = checkStore(ctx, a) && allGood
	}
	allGood = checkWriter(ctx, a) && allGood

	printFinalStatus(allGood)
	return nil
}

func checkConfig(a *app) bool {
	fmt.Print("Config: ")
	if err := a.cfg.Validate(); err != nil {
		fmt.Printf("✗\n%v\n", err)
		return false
	}
	fmt.Printf("✓ %d profile(s), store %s, pass every %s\n", len(a.cfg.Profiles), a.cfg.Store, a.cfg.Interval)
	return true
}

func checkStore(ctx context.Context, a *app) bool {
	fmt.Printf("Store (%s): ", a.cfg.Store)
	st, err := a.openStore(ctx, true)
	if errors.Is(err, sqlite.ErrNotInitialized) {
		fmt.Printf("- %s does not exist yet, it is created on first run\n", a.cfg.SQLitePath)
		return true
	}
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	defer st.Close()

	if p, ok := st.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			fmt.Printf("✗ %v\n", err)
			return false
		}
	}
	fmt.Println("✓ Connected (read-only, migrations not applied)")

	today := api.Today()
	for _, profileID := range a.cfg.Profiles {
		due, err := st.ListDueRules(ctx, profileID, today)
		if err != nil {
			fmt.Printf("  %s: ✗ %v\n", profileID, err)
			return false
		}
		fmt.Printf("  %s: %d rule(s) due on %s\n", profileID, len(due), today)
	}
	return true
}

func checkWriter(ctx context.Context, a *app) bool {
	fmt.Print("Writer: ")
	if a.cfg.WriterPlugin == "" {
		fmt.Println("- export disabled")
		return true
	}

	registry, err := newRegistry()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	plugin, err := registry.GetWriter(a.cfg.WriterPlugin)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	fmt.Printf("✓ %s (%s)\n", plugin.Name(), plugin.Description())

	scopes := plugin.RequiredScopes()
	if len(scopes) == 0 {
		return true
	}

	ok := true
	fmt.Printf("Credentials file (%s): ", a.cfg.ClientSecretFile)
	if _, err := os.Stat(a.cfg.ClientSecretFile); err != nil {
		fmt.Println("✗ Not found")
		ok = false
	} else {
		fmt.Println("✓ Found")
	}

	fmt.Printf("OAuth token (%s): ", a.cfg.TokenFile)
	token, err := client.TokenFromFile(a.cfg.TokenFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Println("✗ Not found (run 'spendcycle setup')")
		return false
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		return false
	case token.Expiry.Before(time.Now()):
		fmt.Println("⚠ Expired (will refresh on next run)")
	default:
		fmt.Printf("✓ Valid (expires: %s)\n", token.Expiry.Format(time.RFC3339))
	}
	if !ok {
		return false
	}

	return checkSheetsAPI(ctx, a, scopes)
}

func checkSheetsAPI(ctx context.Context, a *app, scopes []string) bool {
	fmt.Print("Sheets API: ")

	var writerCfg struct {
		SheetID string `json:"sheetId"`
	}
	if raw := a.cfg.WriterConfigJSON(); raw != nil {
		_ = json.Unmarshal(raw, &writerCfg)
	}
	if writerCfg.SheetID == "" {
		fmt.Println("- no sheetId configured, a spreadsheet will be created on first run")
		return true
	}

	httpClient, err := client.New(ctx, a.oauthConfig(scopes))
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		fmt.Printf("✗ creating service: %v\n", err)
		return false
	}
	spreadsheet, err := svc.Spreadsheets.Get(writerCfg.SheetID).Context(ctx).Do()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	fmt.Printf("✓ Connected to %q\n", spreadsheet.Properties.Title)
	return true
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready to run")
		fmt.Println()
		fmt.Println("Run 'spendcycle run' to start the daemon.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'spendcycle status' again.")
	}
}
