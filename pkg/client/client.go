// Package client provides OAuth2 client setup for Google APIs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Config locates the OAuth credentials on disk.
type Config struct {
	// SecretFile is the client secret JSON downloaded from Google Cloud.
	SecretFile string
	// TokenFile caches the user token obtained by Authorize.
	TokenFile string
	// Scopes requested during authorization.
	Scopes []string
}

// ErrNoToken is returned by New when no cached token exists yet.
var ErrNoToken = errors.New("no oauth token found, run setup first")

// New returns an HTTP client authorized with the cached token. It never
// starts an interactive flow, so it is safe to call from the daemon.
func New(ctx context.Context, cfg Config) (*http.Client, error) {
	config, err := oauthConfig(cfg)
	if err != nil {
		return nil, err
	}

	tok, err := TokenFromFile(cfg.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	return config.Client(ctx, tok), nil
}

func oauthConfig(cfg Config) (*oauth2.Config, error) {
	b, err := os.ReadFile(cfg.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, cfg.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	return config, nil
}

// TokenFromFile reads a cached token.
func TokenFromFile(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decoding token %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes token to path with owner-only permissions, replacing any
// previous token in one rename.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	b, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing token: %w", err)
	}
	return nil
}
