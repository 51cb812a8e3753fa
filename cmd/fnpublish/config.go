package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Management ManagementConfig `mapstructure:"management"`
	Auth       AuthConfig       `mapstructure:"auth"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Publish    PublishConfig    `mapstructure:"publish"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ManagementConfig holds the management endpoint configuration.
type ManagementConfig struct {
	URL        string `mapstructure:"url"`
	APIVersion string `mapstructure:"api_version"`
}

// AuthConfig holds credentials for the management and deployment endpoints.
type AuthConfig struct {
	// AccessToken is the bearer token. Set via FNPUBLISH_AUTH_ACCESS_TOKEN.
	AccessToken string `mapstructure:"access_token"`
}

// HTTPConfig holds outbound HTTP configuration.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`

	// RetryMax bounds transport-level retries of management calls.
	RetryMax int `mapstructure:"retry_max"`
}

// PublishConfig holds the timings of a publish run.
type PublishConfig struct {
	Author string `mapstructure:"author"`

	StatusInterval time.Duration `mapstructure:"status_interval"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout"`

	ConvergenceInterval time.Duration `mapstructure:"convergence_interval"`
	ConvergenceTimeout  time.Duration `mapstructure:"convergence_timeout"`

	FlexHealthDelay time.Duration `mapstructure:"flex_health_delay"`
	HealthAttempts  int           `mapstructure:"health_attempts"`
	HealthDelay     time.Duration `mapstructure:"health_delay"`

	SyncTriggersDelay      time.Duration `mapstructure:"sync_triggers_delay"`
	RemoteBuildSettleDelay time.Duration `mapstructure:"remote_build_settle_delay"`
	SettingsRemovalDelay   time.Duration `mapstructure:"settings_removal_delay"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("management.url", "https://management.azure.com")
	v.SetDefault("management.api_version", "2022-03-01")
	v.SetDefault("auth.access_token", "")
	v.SetDefault("http.timeout", "0s")
	v.SetDefault("http.user_agent", "fnpublish/"+Version)
	v.SetDefault("http.retry_max", 3)

	v.SetDefault("publish.author", "")
	v.SetDefault("publish.status_interval", "3s")
	v.SetDefault("publish.status_timeout", "30m")
	v.SetDefault("publish.convergence_interval", "5s")
	v.SetDefault("publish.convergence_timeout", "300s")
	v.SetDefault("publish.flex_health_delay", "60s")
	v.SetDefault("publish.health_attempts", 15)
	v.SetDefault("publish.health_delay", "5s")
	v.SetDefault("publish.sync_triggers_delay", "5s")
	v.SetDefault("publish.remote_build_settle_delay", "15s")
	v.SetDefault("publish.settings_removal_delay", "5s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	v.SetEnvPrefix("FNPUBLISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so stdout stays free for the publish output.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
