// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/enrich-cli/internal/identity"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig               `yaml:"store" mapstructure:"store"`
	Server    ServerConfig              `yaml:"server" mapstructure:"server"`
	Log       LogConfig                 `yaml:"log" mapstructure:"log"`
	Pipeline  PipelineConfig            `yaml:"pipeline" mapstructure:"pipeline"`
	Execution ExecutionConfig           `yaml:"execution" mapstructure:"execution"`
	Identity  identity.Config           `yaml:"identity" mapstructure:"identity"`
	Monitor   MonitorConfig             `yaml:"monitor" mapstructure:"monitor"`
	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PipelineConfig holds stage-level knobs.
type PipelineConfig struct {
	DefaultDepth          string `yaml:"default_depth" mapstructure:"default_depth"`
	RetryInitialBackoffMS int    `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS     int    `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// ExecutionConfig holds execution-manager limits.
type ExecutionConfig struct {
	MaxConcurrency     int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	DefaultConcurrency int `yaml:"default_concurrency" mapstructure:"default_concurrency"`
	DefaultMaxAttempts int `yaml:"default_max_attempts" mapstructure:"default_max_attempts"`
}

// MonitorConfig configures the serve-mode health checker.
type MonitorConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SystemicErrorAlert   int     `yaml:"systemic_error_alert" mapstructure:"systemic_error_alert"`
}

// ProviderConfig describes one registered provider: its waterfall
// position, rate budget, and credentials.
type ProviderConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	Priority      int     `yaml:"priority" mapstructure:"priority"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "enrich.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pipeline.default_depth", "standard")
	v.SetDefault("pipeline.retry_initial_backoff_ms", 500)
	v.SetDefault("pipeline.retry_max_backoff_ms", 30000)
	v.SetDefault("execution.max_concurrency", 16)
	v.SetDefault("execution.default_concurrency", 4)
	v.SetDefault("execution.default_max_attempts", 3)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.systemic_error_alert", 1)
	v.SetDefault("identity.strong_threshold", 0.85)
	v.SetDefault("identity.weak_threshold", 0.60)
	v.SetDefault("providers.coresignal.enabled", true)
	v.SetDefault("providers.coresignal.priority", 1)
	v.SetDefault("providers.coresignal.rate_per_second", 5.0)
	v.SetDefault("providers.coresignal.burst", 10)
	v.SetDefault("providers.coresignal.base_url", "https://api.coresignal.com")
	v.SetDefault("providers.lusha.enabled", true)
	v.SetDefault("providers.lusha.priority", 2)
	v.SetDefault("providers.lusha.rate_per_second", 2.0)
	v.SetDefault("providers.lusha.burst", 5)
	v.SetDefault("providers.lusha.base_url", "https://api.lusha.com")
	v.SetDefault("providers.hunter.enabled", true)
	v.SetDefault("providers.hunter.priority", 3)
	v.SetDefault("providers.hunter.rate_per_second", 1.0)
	v.SetDefault("providers.hunter.burst", 3)
	v.SetDefault("providers.hunter.base_url", "https://api.hunter.io")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// LoadProviderFile reads per-provider overrides from a standalone YAML
// file and merges them over the loaded config. Entries replace whole
// provider blocks; providers absent from the file are untouched.
func (c *Config) LoadProviderFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "config: read provider file %s", path)
	}

	var overrides map[string]ProviderConfig
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return eris.Wrapf(err, "config: parse provider file %s", path)
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig, len(overrides))
	}
	for name, pc := range overrides {
		c.Providers[name] = pc
	}
	return nil
}

// Validate checks cross-field constraints before a run starts.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url required for postgres driver")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Execution.DefaultConcurrency > c.Execution.MaxConcurrency {
		return eris.Errorf("config: default_concurrency %d exceeds max_concurrency %d",
			c.Execution.DefaultConcurrency, c.Execution.MaxConcurrency)
	}
	if c.Identity.WeakThreshold > c.Identity.StrongThreshold {
		return eris.Errorf("config: identity weak_threshold %.2f exceeds strong_threshold %.2f",
			c.Identity.WeakThreshold, c.Identity.StrongThreshold)
	}
	if c.Monitor.Enabled && c.Monitor.CheckIntervalSecs < 1 {
		return eris.Errorf("config: monitor check_interval_secs %d must be positive", c.Monitor.CheckIntervalSecs)
	}
	switch c.Pipeline.DefaultDepth {
	case "standard", "comprehensive":
	default:
		return eris.Errorf("config: unknown depth %q", c.Pipeline.DefaultDepth)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
