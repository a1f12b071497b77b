package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("valid config file", func(t *testing.T) {
		path := writeConfig(t, `{
			"listen": ":8080",
			"templates_path": "/var/lib/cqb/templates.json",
			"watch_templates": true,
			"max_query_length": 1024
		}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Listen != ":8080" {
			t.Errorf("Listen = %v, want :8080", cfg.Listen)
		}
		if cfg.TemplatesPath != "/var/lib/cqb/templates.json" {
			t.Errorf("TemplatesPath = %v", cfg.TemplatesPath)
		}
		if !cfg.WatchTemplates {
			t.Error("Expected WatchTemplates to be true")
		}
		if cfg.MaxQueryLength != 1024 {
			t.Errorf("MaxQueryLength = %v, want 1024", cfg.MaxQueryLength)
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `{}`))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Listen != DefaultListen {
			t.Errorf("Listen = %v, want %v", cfg.Listen, DefaultListen)
		}
		if cfg.TemplatesPath != DefaultTemplatesPath {
			t.Errorf("TemplatesPath = %v, want %v", cfg.TemplatesPath, DefaultTemplatesPath)
		}
		if cfg.MaxQueryLength != DefaultMaxQueryLength {
			t.Errorf("MaxQueryLength = %v, want %v", cfg.MaxQueryLength, DefaultMaxQueryLength)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		if _, err := Load("/nonexistent/path/config.json"); err == nil {
			t.Error("Load() should return error for nonexistent file")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "{ invalid json }")); err == nil {
			t.Error("Load() should return error for invalid JSON")
		}
	})

	t.Run("JSON with comments and trailing commas", func(t *testing.T) {
		path := writeConfig(t, `{
			// where saved queries live
			"templates_path": "saved.json", /* inline */
			"local": {
				"editors": "alice, bob,",
			},
		}`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() should handle comments, got error = %v", err)
		}
		if cfg.TemplatesPath != "saved.json" {
			t.Errorf("TemplatesPath = %v, want saved.json", cfg.TemplatesPath)
		}
		editors := cfg.Local.EditorList()
		if len(editors) != 2 || editors[0] != "alice" || editors[1] != "bob" {
			t.Errorf("EditorList() = %v", editors)
		}
	})
}

func TestLoad_OIDCConfig(t *testing.T) {
	path := writeConfig(t, `{
		"oidc": {
			"service_url": "https://corpus.example.com",
			"callback": "/oidc/callback",
			"config_url": "https://auth.example.com/.well-known/openid-configuration",
			"client_id": "myclient",
			"client_secret": "mysecret"
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsOIDCEnabled() {
		t.Error("Expected OIDC to be enabled")
	}
	if cfg.OIDC.GroupsClaim != "groups" {
		t.Errorf("GroupsClaim = %v, want groups", cfg.OIDC.GroupsClaim)
	}
	if cfg.OIDC.EditorGroup != DefaultEditorGroup {
		t.Errorf("EditorGroup = %v, want %v", cfg.OIDC.EditorGroup, DefaultEditorGroup)
	}
}

func TestOIDCConfig_IsValid(t *testing.T) {
	full := OIDCConfig{
		ServiceURL:   "https://corpus.example.com",
		Callback:     "/oidc/callback",
		ConfigURL:    "https://auth.example.com/.well-known/openid-configuration",
		ClientID:     "client123",
		ClientSecret: "secret456",
	}

	tests := []struct {
		name     string
		config   *OIDCConfig
		expected bool
	}{
		{"fully configured", &full, true},
		{"nil", nil, false},
		{"empty", &OIDCConfig{}, false},
		{"missing config url", func() *OIDCConfig { c := full; c.ConfigURL = ""; return &c }(), false},
		{"missing client id", func() *OIDCConfig { c := full; c.ClientID = ""; return &c }(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.IsValid(); got != tt.expected {
				t.Errorf("IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGotifyConfig_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		config   *GotifyConfig
		expected bool
	}{
		{"nil config", nil, false},
		{"disabled config", &GotifyConfig{Enabled: false, Hostname: "https://gotify.example.com", Token: "token"}, false},
		{"missing hostname", &GotifyConfig{Enabled: true, Token: "token"}, false},
		{"missing token", &GotifyConfig{Enabled: true, Hostname: "https://gotify.example.com"}, false},
		{"valid config", &GotifyConfig{Enabled: true, Hostname: "https://gotify.example.com", Token: "token"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.IsValid(); got != tt.expected {
				t.Errorf("IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLocalConfig_EditorListNil(t *testing.T) {
	var l *LocalConfig
	if got := l.EditorList(); got != nil {
		t.Errorf("EditorList() = %v, want nil", got)
	}
}

func TestGet(t *testing.T) {
	configMutex.Lock()
	globalConfig = nil
	configMutex.Unlock()

	if got := Get(); got != nil {
		t.Error("Get() should return nil before Load()")
	}

	if _, err := Load(writeConfig(t, `{"listen": ":7000"}`)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() should return config after Load()")
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %v, want :7000", cfg.Listen)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.Listen != DefaultListen || cfg.TemplatesPath != DefaultTemplatesPath {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.IsOIDCEnabled() {
		t.Error("Default config should not enable OIDC")
	}
	if Get() != cfg {
		t.Error("Default() should become the global config")
	}
}

func TestUnmarshal(t *testing.T) {
	var out struct {
		Names []string `json:"names"`
	}
	if err := Unmarshal([]byte(`{"names": ["a", "b",], /* c */}`), &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(out.Names) != 2 {
		t.Errorf("Expected 2 names, got %d", len(out.Names))
	}
}
