// Package config provides shared configuration loading for the query builder service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tailscale/hujson"
)

const (
	// DefaultListen is the address the HTTP server binds to when none is configured.
	DefaultListen = ":9001"
	// DefaultTemplatesPath is where named query templates are persisted.
	DefaultTemplatesPath = "templates.json"
	// DefaultMaxQueryLength bounds the size of query strings and element payloads.
	DefaultMaxQueryLength = 8192
	// DefaultEditorGroup is the group a user must hold to change templates.
	DefaultEditorGroup = "editor"
)

// OIDCConfig configures OpenID Connect login.
type OIDCConfig struct {
	ServiceURL   string `json:"service_url"`   // Public URL of this service
	Callback     string `json:"callback"`      // Callback path, e.g. /oidc/callback
	ConfigURL    string `json:"config_url"`    // Discovery document URL
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GroupsClaim  string `json:"groups_claim"` // Claim holding group names (default "groups")
	EditorGroup  string `json:"editor_group"` // Group allowed to change templates (default "editor")
}

// IsValid reports whether every field needed to start the login flow is set.
func (o *OIDCConfig) IsValid() bool {
	return o != nil &&
		o.ServiceURL != "" &&
		o.Callback != "" &&
		o.ConfigURL != "" &&
		o.ClientID != "" &&
		o.ClientSecret != ""
}

// LocalConfig configures basic-auth access from hosts other than service_url.
type LocalConfig struct {
	// Editors is a comma-separated list of system users allowed to log in locally.
	Editors string `json:"editors"`
}

// EditorList returns the configured local editors, trimmed and without blanks.
func (l *LocalConfig) EditorList() []string {
	if l == nil {
		return nil
	}
	var out []string
	for _, name := range strings.Split(l.Editors, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// GotifyConfig configures push notifications for template changes.
type GotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	Hostname string `json:"hostname"`
	Token    string `json:"token"`
}

// IsValid returns true if Gotify is enabled and fully configured.
func (g *GotifyConfig) IsValid() bool {
	return g != nil && g.Enabled && g.Hostname != "" && g.Token != ""
}

// Config represents the complete service configuration.
type Config struct {
	Listen         string        `json:"listen"`
	TemplatesPath  string        `json:"templates_path"`
	WatchTemplates bool          `json:"watch_templates"`
	MaxQueryLength int           `json:"max_query_length"`
	OIDC           *OIDCConfig   `json:"oidc,omitempty"`
	Local          *LocalConfig  `json:"local,omitempty"`
	Gotify         *GotifyConfig `json:"gotify,omitempty"`
}

// IsOIDCEnabled reports whether OIDC login is fully configured.
func (c *Config) IsOIDCEnabled() bool {
	return c.OIDC.IsValid()
}

// applyDefaults fills zero-valued settings.
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.TemplatesPath == "" {
		c.TemplatesPath = DefaultTemplatesPath
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = DefaultMaxQueryLength
	}
	if c.OIDC != nil {
		if c.OIDC.GroupsClaim == "" {
			c.OIDC.GroupsClaim = "groups"
		}
		if c.OIDC.EditorGroup == "" {
			c.OIDC.EditorGroup = DefaultEditorGroup
		}
	}
}

// Global configuration instance
var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Load reads and parses the configuration file.
// Supports JSON with comments (//, /* */) and trailing commas.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	configMutex.Lock()
	globalConfig = &cfg
	configMutex.Unlock()

	return &cfg, nil
}

// Unmarshal decodes JSON that may contain comments and trailing commas.
func Unmarshal(data []byte, v interface{}) error {
	data, err := standardizeJSON(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// standardizeJSON strips comments and trailing commas from JSON.
func standardizeJSON(b []byte) ([]byte, error) {
	ast, err := hujson.Parse(b)
	if err != nil {
		return nil, err
	}
	ast.Standardize()
	return ast.Pack(), nil
}

// Get returns the currently loaded global configuration.
func Get() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// Default returns a default configuration for when no config file exists.
// It also stores the default as the global configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()

	return cfg
}
