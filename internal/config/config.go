package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Inbox    InboxConfig    `mapstructure:"inbox" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// Backend "memory" keeps tasks in process and ignores the connection settings.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend" validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url" validate:"required_if=Backend postgres"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains worker authentication settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// InboxConfig controls claim leases, retries and the expired-claim sweeper.
type InboxConfig struct {
	ClaimTimeout       time.Duration `mapstructure:"claim_timeout" validate:"gt=0"`
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts" validate:"gt=0"`
	// SweepSchedule is a six-field cron expression (seconds first).
	SweepSchedule string        `mapstructure:"sweep_schedule" validate:"required"`
	Backoff       BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig holds the default retry delay curve.
type BackoffConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	Multiplier float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxDelay   time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter     float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// WorkerConfig configures the in-process worker pool. Count 0 disables it.
type WorkerConfig struct {
	Count        int           `mapstructure:"count" validate:"gte=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	InboxID      string        `mapstructure:"inbox_id" validate:"required_unless=Count 0"`
	AgentID      string        `mapstructure:"agent_id" validate:"required_unless=Count 0"`
	Types        []string      `mapstructure:"types"`
}
