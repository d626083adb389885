package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go-analysis-console/pkg/validation"

	"gopkg.in/yaml.v3"
)

// AzureConfig enables picking images from blob storage.
type AzureConfig struct {
	AccountName string `yaml:"account_name"`
	AccountKey  string `yaml:"account_key"`
	ServiceURL  string `yaml:"service_url"`
}

func (a AzureConfig) Enabled() bool {
	return strings.TrimSpace(a.AccountName) != "" || strings.TrimSpace(a.ServiceURL) != ""
}

type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	// APIBaseURL is the analysis service, e.g. http://localhost:5000/api.
	APIBaseURL string `yaml:"api_base_url"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`

	MaxUploadSize int64 `yaml:"max_upload_size"`
	HistoryLimit  int   `yaml:"history_limit"`
	Workers       int   `yaml:"workers"`

	DefaultModel      string  `yaml:"default_model"`
	DefaultConfidence float64 `yaml:"default_confidence"`
	DefaultTopK       int     `yaml:"default_top_k"`

	LogLevel string `yaml:"log_level"`

	Azure AzureConfig `yaml:"azure"`
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              "8080",
		APIBaseURL:        "http://localhost:5000/api",
		RequestTimeout:    30 * time.Second,
		AnalysisTimeout:   60 * time.Second,
		SyncTimeout:       10 * time.Second,
		MaxUploadSize:     16 * 1024 * 1024, // 16MB
		HistoryLimit:      10,
		Workers:           4,
		DefaultModel:      "mobilenetv2",
		DefaultConfidence: 0.25,
		DefaultTopK:       3,
		LogLevel:          "info",
	}
}

// Load applies, in order: defaults, the YAML file named by CONFIG_FILE,
// environment overrides. The result is validated.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnvOrDefault("HOST", c.Host)
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.APIBaseURL = getEnvOrDefault("API_BASE_URL", c.APIBaseURL)
	c.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)
	c.AnalysisTimeout = parseDurationOrDefault("ANALYSIS_TIMEOUT", c.AnalysisTimeout)
	c.SyncTimeout = parseDurationOrDefault("SYNC_TIMEOUT", c.SyncTimeout)
	c.MaxUploadSize = parseIntOrDefault("MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.HistoryLimit = int(parseIntOrDefault("HISTORY_LIMIT", int64(c.HistoryLimit)))
	c.Workers = int(parseIntOrDefault("WORKERS", int64(c.Workers)))
	c.DefaultModel = getEnvOrDefault("DEFAULT_MODEL", c.DefaultModel)
	c.DefaultConfidence = parseFloatOrDefault("DEFAULT_CONFIDENCE", c.DefaultConfidence)
	c.DefaultTopK = int(parseIntOrDefault("DEFAULT_TOP_K", int64(c.DefaultTopK)))
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.Azure.AccountName = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", c.Azure.AccountName)
	c.Azure.AccountKey = getEnvOrDefault("AZURE_STORAGE_KEY", c.Azure.AccountKey)
	c.Azure.ServiceURL = getEnvOrDefault("AZURE_STORAGE_URL", c.Azure.ServiceURL)
}

// Validate checks ranges and normalizes the base URL.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}

	base, err := validation.NewURLValidator().ValidateBaseURL(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	c.APIBaseURL = base

	if c.RequestTimeout <= 0 || c.AnalysisTimeout <= 0 || c.SyncTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, analysis=%s, sync=%s)",
			c.RequestTimeout, c.AnalysisTimeout, c.SyncTimeout)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > 50 {
		return fmt.Errorf("HISTORY_LIMIT must be in [1, 50] (got %d)", c.HistoryLimit)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be > 0 (got %d)", c.Workers)
	}
	if c.DefaultConfidence < 0.1 || c.DefaultConfidence > 0.9 {
		return fmt.Errorf("DEFAULT_CONFIDENCE must be in [0.1, 0.9] (got %v)", c.DefaultConfidence)
	}
	if c.DefaultTopK < 1 {
		return fmt.Errorf("DEFAULT_TOP_K must be > 0 (got %d)", c.DefaultTopK)
	}
	if c.Azure.AccountKey != "" && c.Azure.AccountName == "" {
		return fmt.Errorf("AZURE_STORAGE_KEY requires AZURE_STORAGE_ACCOUNT")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}
