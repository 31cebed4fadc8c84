package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// CallbackPath is the path Google redirects to after consent.
const CallbackPath = "/callback"

const (
	defaultCallbackAddr = "127.0.0.1:8085"
	defaultAuthTimeout  = 5 * time.Minute
)

// ErrAuthDenied is returned when the consent screen reports an error,
// usually because the user declined access.
var ErrAuthDenied = errors.New("authorization denied")

// AuthorizeOptions controls the interactive flow run by Authorize.
type AuthorizeOptions struct {
	// CallbackAddr is the loopback address the redirect is served on.
	// Port 0 picks a free port.
	CallbackAddr string
	// Timeout bounds the wait for the user to finish consent.
	Timeout time.Duration
	// OnAuthURL is handed the consent URL, typically to open a browser.
	OnAuthURL func(authURL string)
	Logger    *slog.Logger
}

func (o *AuthorizeOptions) setDefaults() {
	if o.CallbackAddr == "" {
		o.CallbackAddr = defaultCallbackAddr
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultAuthTimeout
	}
	if o.OnAuthURL == nil {
		o.OnAuthURL = func(string) {}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Authorize runs the loopback OAuth flow: it serves the redirect on
// opts.CallbackAddr, waits for the code, exchanges it and saves the token
// to cfg.TokenFile.
func Authorize(ctx context.Context, cfg Config, opts AuthorizeOptions) (*oauth2.Token, error) {
	opts.setDefaults()

	config, err := oauthConfig(cfg)
	if err != nil {
		return nil, err
	}

	cb, err := newCallback()
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", opts.CallbackAddr)
	if err != nil {
		return nil, fmt.Errorf("listening for oauth callback on %s: %w", opts.CallbackAddr, err)
	}
	config.RedirectURL = "http://" + ln.Addr().String() + CallbackPath

	srv := &http.Server{Handler: cb, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cb.deliver(callbackResult{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			opts.Logger.Warn("shutting down oauth callback server", "error", err)
		}
	}()

	opts.Logger.Debug("waiting for oauth callback", "redirect_url", config.RedirectURL)
	opts.OnAuthURL(config.AuthCodeURL(cb.state, oauth2.AccessTypeOffline))

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	code, err := cb.wait(waitCtx)
	if err != nil {
		return nil, err
	}

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if err := SaveToken(cfg.TokenFile, tok); err != nil {
		return nil, err
	}

	opts.Logger.Info("saved oauth token", "path", cfg.TokenFile)
	return tok, nil
}

type callbackResult struct {
	code string
	err  error
}

// callback handles the single redirect of one Authorize call. Requests with
// a foreign state are rejected without ending the flow.
type callback struct {
	state  string
	result chan callbackResult
	once   sync.Once
}

func newCallback() (*callback, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating oauth state: %w", err)
	}
	return &callback{
		state:  base64.RawURLEncoding.EncodeToString(b),
		result: make(chan callbackResult, 1),
	}, nil
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CallbackPath {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Get("state") != c.state {
		http.Error(w, "unexpected state, start again with 'spendcycle setup'", http.StatusBadRequest)
		return
	}

	var res callbackResult
	switch {
	case q.Get("error") != "":
		res.err = fmt.Errorf("%w: %s %s", ErrAuthDenied, q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		res.err = errors.New("callback carried no authorization code")
	default:
		res.code = q.Get("code")
	}

	if !c.deliver(res) {
		http.Error(w, "authorization already completed", http.StatusConflict)
		return
	}
	if res.err != nil {
		http.Error(w, "spendcycle was not authorized: "+res.err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "spendcycle is authorized. You can close this tab and return to the terminal.")
}

// deliver records the first result and reports whether res was it.
func (c *callback) deliver(res callbackResult) bool {
	delivered := false
	c.once.Do(func() {
		c.result <- res
		delivered = true
	})
	return delivered
}

func (c *callback) wait(ctx context.Context) (string, error) {
	select {
	case res := <-c.result:
		return res.code, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.New("timed out waiting for authorization")
		}
		return "", ctx.Err()
	}
}
