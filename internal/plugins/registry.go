// Package plugins provides a registry of export writer plugins.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

// WriterPlugin builds an api.Writer from a JSON config blob.
type WriterPlugin interface {
	// Name returns the plugin name (e.g., "sheets", "csv", "json").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewWriter creates a writer instance. httpClient is nil for plugins
	// that need no OAuth scopes.
	NewWriter(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error)
}

// Registry manages available writer plugins.
type Registry struct {
	writers map[string]WriterPlugin
}

// NewRegistry creates a registry holding the given plugins.
func NewRegistry(plugins ...WriterPlugin) (*Registry, error) {
	r := &Registry{writers: make(map[string]WriterPlugin)}
	for _, p := range plugins {
		if err := r.RegisterWriter(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterWriter registers a writer plugin.
func (r *Registry) RegisterWriter(plugin WriterPlugin) error {
	name := plugin.Name()
	if _, exists := r.writers[name]; exists {
		return fmt.Errorf("writer plugin %q already registered", name)
	}
	r.writers[name] = plugin
	return nil
}

// GetWriter returns a writer plugin by name.
func (r *Registry) GetWriter(name string) (WriterPlugin, error) {
	plugin, exists := r.writers[name]
	if !exists {
		return nil, fmt.Errorf("writer plugin %q not found (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return plugin, nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.writers))
	for name := range r.writers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListWriters returns all registered writer plugins sorted by name.
func (r *Registry) ListWriters() []WriterPlugin {
	plugins := make([]WriterPlugin, 0, len(r.writers))
	for _, name := range r.Names() {
		plugins = append(plugins, r.writers[name])
	}
	return plugins
}

// Scopes returns the deduplicated OAuth scopes required by the named writers.
func (r *Registry) Scopes(names ...string) ([]string, error) {
	var scopes []string
	for _, name := range names {
		plugin, err := r.GetWriter(name)
		if err != nil {
			return nil, err
		}
		for _, scope := range plugin.RequiredScopes() {
			if !slices.Contains(scopes, scope) {
				scopes = append(scopes, scope)
			}
		}
	}
	return scopes, nil
}

// CreateWriter creates a writer instance from a plugin.
func (r *Registry) CreateWriter(ctx context.Context, name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	plugin, err := r.GetWriter(name)
	if err != nil {
		return nil, err
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	return plugin.NewWriter(ctx, httpClient, config, logger)
}
