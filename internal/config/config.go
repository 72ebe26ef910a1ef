// Package config loads the service configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/duyemura/boxassist-sub000/internal/usage"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Autonomy  AutonomyConfig  `yaml:"autonomy"`
	Budget    BudgetConfig    `yaml:"budget"`
	Handoff   HandoffConfig   `yaml:"handoff"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Watch     WatchConfig     `yaml:"watch"`
	Pricing   usage.Pricing   `yaml:"pricing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// URL is a Postgres connection string. Empty selects the in-memory
	// stores, which only make sense for tests and local development.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ProvidersConfig struct {
	// Default names the provider used for new sessions: "anthropic" or
	// "openai".
	Default   string         `yaml:"default"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AutonomyConfig sets the default autonomy mode and the confidence bar a
// side-effecting call must clear to auto-execute in assisted mode.
type AutonomyConfig struct {
	DefaultMode         string  `yaml:"default_mode"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// BudgetConfig is the default per-session budget. Session creation may
// tighten these but never loosen past them.
type BudgetConfig struct {
	MaxTurns     int           `yaml:"max_turns"`
	MaxCostUSD   float64       `yaml:"max_cost_usd"`
	MaxWallClock time.Duration `yaml:"max_wall_clock"`
}

type HandoffConfig struct {
	// MaxTranscriptMessages bounds how much conversation history a
	// handoff goal carries verbatim. Older messages are summarized.
	MaxTranscriptMessages int `yaml:"max_transcript_messages"`
}

type ChannelsConfig struct {
	Email EmailConfig `yaml:"email"`
	SMS   SMSConfig   `yaml:"sms"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SMSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	From    string `yaml:"from"`
}

// WatchConfig drives the scheduled retention scan.
type WatchConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Schedule     string `yaml:"schedule"`
	InactiveDays int    `yaml:"inactive_days"`

	// Accounts are the tenant ids the scan covers.
	Accounts []string `yaml:"accounts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with all defaults applied and no providers
// configured.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Providers.Anthropic.Model == "" {
		cfg.Providers.Anthropic.Model = "claude-sonnet-4-5"
	}
	if cfg.Providers.OpenAI.Model == "" {
		cfg.Providers.OpenAI.Model = "gpt-4o"
	}
	if cfg.Autonomy.DefaultMode == "" {
		cfg.Autonomy.DefaultMode = "assisted"
	}
	if cfg.Autonomy.ConfidenceThreshold == 0 {
		cfg.Autonomy.ConfidenceThreshold = 0.8
	}
	if cfg.Budget.MaxTurns == 0 {
		cfg.Budget.MaxTurns = 12
	}
	if cfg.Budget.MaxCostUSD == 0 {
		cfg.Budget.MaxCostUSD = 1.0
	}
	if cfg.Budget.MaxWallClock == 0 {
		cfg.Budget.MaxWallClock = 10 * time.Minute
	}
	if cfg.Handoff.MaxTranscriptMessages == 0 {
		cfg.Handoff.MaxTranscriptMessages = 30
	}
	if cfg.Watch.Schedule == "" {
		cfg.Watch.Schedule = "0 9 * * *"
	}
	if cfg.Watch.InactiveDays == 0 {
		cfg.Watch.InactiveDays = 14
	}
	if cfg.Channels.Email.SMTPPort == 0 {
		cfg.Channels.Email.SMTPPort = 587
	}
	if cfg.Pricing == nil {
		cfg.Pricing = usage.DefaultPricing()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configs that cannot produce a working service.
func (c *Config) Validate() error {
	switch c.Providers.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("providers.default: unknown provider %q", c.Providers.Default)
	}
	switch c.Autonomy.DefaultMode {
	case "full", "assisted", "manual":
	default:
		return fmt.Errorf("autonomy.default_mode: unknown mode %q", c.Autonomy.DefaultMode)
	}
	if c.Autonomy.ConfidenceThreshold < 0 || c.Autonomy.ConfidenceThreshold > 1 {
		return fmt.Errorf("autonomy.confidence_threshold: %v outside [0, 1]", c.Autonomy.ConfidenceThreshold)
	}
	if c.Budget.MaxTurns < 1 {
		return fmt.Errorf("budget.max_turns: must be at least 1")
	}
	if c.Budget.MaxCostUSD < 0 {
		return fmt.Errorf("budget.max_cost_usd: must not be negative")
	}
	return nil
}
