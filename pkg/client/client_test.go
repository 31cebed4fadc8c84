package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const testSecret = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["http://localhost"]}}`

func writeSecret(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "client_secret.json")
	if err := os.WriteFile(path, []byte(testSecret), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_WithoutToken(t *testing.T) {
	dir := t.TempDir()
	_, err := New(context.Background(), Config{
		SecretFile: writeSecret(t, dir),
		TokenFile:  filepath.Join(dir, "token.json"),
	})
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("New() error = %v, want ErrNoToken", err)
	}
}

func TestNew_MissingSecret(t *testing.T) {
	_, err := New(context.Background(), Config{SecretFile: filepath.Join(t.TempDir(), "nope.json")})
	if err == nil || errors.Is(err, ErrNoToken) {
		t.Fatalf("New() error = %v, want secret file error", err)
	}
}

func TestNew_WithSavedToken(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "nested", "token.json")

	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}
	if err := SaveToken(tokenPath, tok); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	info, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token permissions = %o, want 600", perm)
	}

	httpClient, err := New(context.Background(), Config{SecretFile: writeSecret(t, dir), TokenFile: tokenPath})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if httpClient == nil {
		t.Fatal("New() returned nil client")
	}

	loaded, err := TokenFromFile(tokenPath)
	if err != nil {
		t.Fatalf("TokenFromFile() error = %v", err)
	}
	if loaded.RefreshToken != "refresh" {
		t.Errorf("RefreshToken = %q", loaded.RefreshToken)
	}
}
