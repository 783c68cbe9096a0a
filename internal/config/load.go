package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. INBOX_SERVER_PORT.
const EnvPrefix = "INBOX"

// defaults lists every configuration key with its default. Keys without a
// sensible default use nil so they are still bound to the environment.
var defaults = map[string]any{
	"server.port":                 8080,
	"server.log_level":            "info",
	"server.shutdown_timeout":     15 * time.Second,
	"database.backend":            "postgres",
	"database.url":                nil,
	"database.max_open_conns":     25,
	"database.max_idle_conns":     25,
	"database.conn_max_lifetime":  5 * time.Minute,
	"auth.jwt_secret":             nil,
	"auth.token_lifetime_minutes": 60,
	"inbox.claim_timeout":         5 * time.Minute,
	"inbox.default_max_attempts":  3,
	"inbox.sweep_schedule":        "*/15 * * * * *",
	"inbox.backoff.base_delay":    time.Second,
	"inbox.backoff.multiplier":    2.0,
	"inbox.backoff.max_delay":     time.Hour,
	"inbox.backoff.jitter":        0.0,
	"worker.count":                0,
	"worker.poll_interval":        time.Second,
	"worker.inbox_id":             nil,
	"worker.agent_id":             nil,
	"worker.types":                nil,
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from ./config.yaml.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		if value != nil {
			v.SetDefault(key, value)
		}
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
