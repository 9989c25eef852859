// Package config loads runtime settings from .toolgate.yaml, TOOLGATE_*
// environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/logging"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/telemetry"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TOOLGATE"

// Config is the full runtime configuration.
type Config struct {
	Policy     string          `mapstructure:"policy"`
	Precedence string          `mapstructure:"precedence"`
	Watch      bool            `mapstructure:"watch"`
	Audit      AuditConfig     `mapstructure:"audit"`
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	Log        LogConfig       `mapstructure:"log"`
	Telemetry  TelemetryConfig `mapstructure:"telemetry"`
	Serve      ServeConfig     `mapstructure:"serve"`
	Alerts     []alert.Config  `mapstructure:"alerts"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Sink    string        `mapstructure:"sink"` // jsonl, sqlite, log, none
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig tunes limiter housekeeping.
type RateLimitConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LogConfig configures the operational logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ServeConfig configures the gRPC decision service.
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// New returns a viper instance with defaults and environment binding set.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("policy", "toolgate.yaml")
	v.SetDefault("precedence", "")
	v.SetDefault("watch", false)
	v.SetDefault("audit.sink", "log")
	v.SetDefault("audit.path", "")
	v.SetDefault("audit.timeout", 2*time.Second)
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	tel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.enabled", tel.Enabled)
	v.SetDefault("telemetry.endpoint", tel.Endpoint)
	v.SetDefault("telemetry.protocol", tel.Protocol)
	v.SetDefault("telemetry.insecure", tel.Insecure)
	v.SetDefault("telemetry.sample_ratio", tel.SampleRatio)
	v.SetDefault("serve.addr", "127.0.0.1:7443")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (explicit path, or .toolgate.yaml in the
// working directory and then the home directory) and unmarshals the result.
// A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".toolgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Audit.Timeout <= 0 {
		cfg.Audit.Timeout = 2 * time.Second
	}
	if cfg.Audit.Path == "" {
		switch cfg.Audit.Sink {
		case "jsonl":
			cfg.Audit.Path = "toolgate-audit.jsonl"
		case "sqlite":
			cfg.Audit.Path = "toolgate-audit.db"
		}
	}
	if cfg.Audit.Path != "" {
		cfg.Audit.Path = filepath.Clean(cfg.Audit.Path)
	}
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Policy == "" {
		return fmt.Errorf("policy path is required")
	}
	switch policy.Precedence(c.Precedence) {
	case "", policy.ScopeFirst, policy.RateLimitFirst:
	default:
		return fmt.Errorf("invalid precedence: %s (must be scope_first or rate_limit_first)", c.Precedence)
	}
	switch c.Audit.Sink {
	case "jsonl", "sqlite", "log", "none":
	default:
		return fmt.Errorf("invalid audit sink: %s (must be jsonl, sqlite, log, or none)", c.Audit.Sink)
	}
	if c.RateLimit.SweepInterval < 0 {
		return fmt.Errorf("ratelimit.sweep_interval must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	for i, a := range c.Alerts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("alerts[%d]: %w", i, err)
		}
	}
	return c.TelemetryConfig("").Validate()
}

// TelemetryConfig converts to the telemetry package form.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = c.Telemetry.Enabled
	tc.Endpoint = c.Telemetry.Endpoint
	if c.Telemetry.Protocol != "" {
		tc.Protocol = c.Telemetry.Protocol
	}
	tc.Insecure = c.Telemetry.Insecure
	tc.SampleRatio = c.Telemetry.SampleRatio
	tc.ServiceVersion = version
	return tc
}

// LoggingConfig converts to the logging package form.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
