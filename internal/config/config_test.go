package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:5000/api" {
		t.Errorf("Unexpected base URL %s", cfg.APIBaseURL)
	}
	if cfg.HistoryLimit != 10 || cfg.DefaultConfidence != 0.25 || cfg.DefaultTopK != 3 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.Azure.Enabled() {
		t.Error("Azure must be disabled by default")
	}
	if cfg.ServerAddress() != "0.0.0.0:8080" {
		t.Errorf("Unexpected address %s", cfg.ServerAddress())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.yaml")
	content := `
api_base_url: "http://analysis.internal:5000/api/"
analysis_timeout: 90s
history_limit: 20
default_model: resnet50
azure:
  account_name: leafstore
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_LIMIT", "15")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned %v", err)
	}
	if cfg.APIBaseURL != "http://analysis.internal:5000/api" {
		t.Errorf("Base URL not normalized: %s", cfg.APIBaseURL)
	}
	if cfg.AnalysisTimeout != 90*time.Second {
		t.Errorf("Expected 90s, got %s", cfg.AnalysisTimeout)
	}
	if cfg.HistoryLimit != 15 {
		t.Errorf("Env must override file, got %d", cfg.HistoryLimit)
	}
	if cfg.DefaultModel != "resnet50" || cfg.Port != "9090" {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if !cfg.Azure.Enabled() {
		t.Error("Azure must be enabled by the file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = "http" }, "invalid PORT"},
		{"port out of range", func(c *Config) { c.Port = "70000" }, "invalid PORT"},
		{"bad base url", func(c *Config) { c.APIBaseURL = "ftp://x" }, "invalid API_BASE_URL"},
		{"zero timeout", func(c *Config) { c.SyncTimeout = 0 }, "timeouts must be > 0"},
		{"history too large", func(c *Config) { c.HistoryLimit = 51 }, "HISTORY_LIMIT"},
		{"history zero", func(c *Config) { c.HistoryLimit = 0 }, "HISTORY_LIMIT"},
		{"confidence out of range", func(c *Config) { c.DefaultConfidence = 0.95 }, "DEFAULT_CONFIDENCE"},
		{"upload size", func(c *Config) { c.MaxUploadSize = 0 }, "MAX_UPLOAD_SIZE"},
		{"key without account", func(c *Config) { c.Azure.AccountKey = "k" }, "AZURE_STORAGE_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
