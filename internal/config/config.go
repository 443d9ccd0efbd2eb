// Package config loads the service configuration from an optional YAML
// file with environment overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(td)
	return nil
}

// pollIntervals are the intervals the dashboard offers.
var pollIntervals = map[time.Duration]struct{}{
	10 * time.Second: {},
	30 * time.Second: {},
	60 * time.Second: {},
	5 * time.Minute:  {},
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// AssetRoot is where boundary files live: a directory or an
	// HTTP(S) base URL.
	AssetRoot string `yaml:"asset_root"`

	APIBaseURL string `yaml:"api_base_url"`
	UserEmail  string `yaml:"user_email"`
	// TokenFile holds the bearer token, kept fresh by the session
	// sidecar.
	TokenFile string `yaml:"token_file"`

	PollInterval Duration `yaml:"poll_interval"`
	MaxPoints    int      `yaml:"max_points"`

	// MultiDeviceIDs are polled together in multi-select regions.
	MultiDeviceIDs []string `yaml:"multi_device_ids"`

	SessionTTL  Duration `yaml:"session_ttl"`
	DatabaseURL string   `yaml:"database_url"`
}

func defaults() Config {
	return Config{
		ListenAddr:     ":8081",
		LogLevel:       "info",
		AssetRoot:      "./assets/boundaries",
		PollInterval:   Duration(5 * time.Minute),
		MaxPoints:      10,
		MultiDeviceIDs: []string{"866597079361000", "863013070187264"},
		SessionTTL:     Duration(12 * time.Hour),
	}
}

// Load reads the config file (if path is non-empty), applies env
// overrides, and validates.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if _, ok := pollIntervals[time.Duration(cfg.PollInterval)]; !ok {
		return Config{}, fmt.Errorf("poll_interval %s not supported (10s, 30s, 60s, 5m)", time.Duration(cfg.PollInterval))
	}
	if cfg.MaxPoints <= 0 {
		return Config{}, fmt.Errorf("max_points must be positive, got %d", cfg.MaxPoints)
	}
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("api_base_url is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setIfEnv(&cfg.ListenAddr, "HTTP_ADDR")
	setIfEnv(&cfg.LogLevel, "LOG_LEVEL")
	setIfEnv(&cfg.AssetRoot, "ASSET_ROOT")
	setIfEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setIfEnv(&cfg.UserEmail, "USER_EMAIL")
	setIfEnv(&cfg.TokenFile, "API_TOKEN_FILE")
	setIfEnv(&cfg.DatabaseURL, "DATABASE_URL")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
