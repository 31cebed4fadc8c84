package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/ArionMiles/spendcycle/pkg/client"
	sheetswriter "github.com/ArionMiles/spendcycle/pkg/writer/sheets"
)

// runSetup authorizes spendcycle to append to Google Sheets.
func runSetup(args []string) error {
	var (
		configPath string
		force      bool
	)
	fs := newFlagSet("setup", &configPath)
	fs.BoolVar(&force, "force", false, "re-authenticate even if a token exists")
	callbackAddr := fs.String("callback", "127.0.0.1:8085", "loopback `address` that receives the OAuth redirect")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := loadUnvalidated(configPath)
	if err != nil {
		return err
	}
	secretsPath, tokenPath := a.cfg.ClientSecretFile, a.cfg.TokenFile

	fmt.Println("=== spendcycle setup ===")
	fmt.Println()

	if _, err := os.Stat(secretsPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s' (or set GOOGLE_CLIENT_SECRET_FILE)", secretsPath, secretsPath)
	}

	if !force {
		if _, err := os.Stat(tokenPath); err == nil {
			fmt.Printf("Already authenticated! Token file exists: %s\n", tokenPath)
			fmt.Println()
			fmt.Println("To re-authenticate, run: spendcycle setup -force")
			return nil
		}
	}

	if force {
		if err := os.Remove(tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to remove existing token", "error", err)
		}
		fmt.Println("Forcing re-authentication...")
		fmt.Println()
	}

	fmt.Println("Required permissions:")
	fmt.Println("  - Sheets: append generated recurring transactions")
	fmt.Println()

	ctx, cancel := signalContext(a.logger)
	defer cancel()

	onAuthURL := func(authURL string) {
		fmt.Printf("Opening your browser for Google consent. If it does not open, visit:\n%s\n\n", authURL)
		if err := openBrowser(ctx, authURL); err != nil {
			a.logger.Warn("could not open browser", "error", err)
		}
	}
	_, err = client.Authorize(ctx, a.oauthConfig([]string{sheetswriter.Scope}), client.AuthorizeOptions{
		CallbackAddr: *callbackAddr,
		OnAuthURL:    onAuthURL,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Setup complete ===")
	fmt.Printf("Token saved to: %s\n", tokenPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println(`  1. Set SPENDCYCLE_WRITER=sheets and SPENDCYCLE_WRITER_CONFIG='{"sheetTitle":"Recurring","sheetName":"Sheet1"}'`)
	fmt.Println("  2. Run 'spendcycle status' to verify, then 'spendcycle run'")
	return nil
}

// openBrowser hands url to the desktop's default browser.
func openBrowser(ctx context.Context, url string) error {
	var name string
	args := []string{url}
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		name = "xdg-open"
	}
	return exec.CommandContext(ctx, name, args...).Start()
}
