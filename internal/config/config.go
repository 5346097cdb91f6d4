package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Tenant       TenantConfig       `yaml:"tenant"`
	Pool         PoolConfig         `yaml:"pool"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Conversation ConversationConfig `yaml:"conversation"`
	Scraper      ScraperConfig      `yaml:"scraper"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	ActionLog    ActionLogConfig    `yaml:"action_log"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TenantConfig scopes single-instance deployments to one tenant and
// pins the local day boundary used for quota resets.
type TenantConfig struct {
	DefaultID string `yaml:"default_id"`
	Timezone  string `yaml:"timezone"`
}

// PoolConfig tunes the account pool manager.
type PoolConfig struct {
	DefaultDailyFollows int           `yaml:"default_daily_follows"`
	DefaultDailyDMs     int           `yaml:"default_daily_dms"`
	CoolingSweepEvery   time.Duration `yaml:"cooling_sweep_every"`
	// DefaultCooling is applied when a health probe demands cooling
	// but gives no window.
	DefaultCooling time.Duration `yaml:"default_cooling"`
	// Cron spec for the daily counter reset, evaluated in tenant.timezone.
	ResetSchedule string `yaml:"reset_schedule"`
}

// SchedulerConfig tunes the outreach task scheduler.
type SchedulerConfig struct {
	Workers       int           `yaml:"workers"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	ActionsPerSec float64       `yaml:"actions_per_sec"`
	ActionBurst   int           `yaml:"action_burst"`
	FollowTimeout time.Duration `yaml:"follow_timeout"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// ConversationConfig tunes the conversation router.
type ConversationConfig struct {
	ConversionThreshold int           `yaml:"conversion_threshold"`
	MaxUnknownStreak    int           `yaml:"max_unknown_streak"`
	InactivityClose     time.Duration `yaml:"inactivity_close"`
	ResponderRetries    int           `yaml:"responder_retries"`
	// InviteLink fills the invite placeholder in automated reply copy.
	InviteLink string `yaml:"invite_link"`
}

// ScraperConfig configures the external follower scrape collaborator.
type ScraperConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig configures the browser automation gateway that
// executes follow/DM/unfollow actions on the platforms.
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type ActionLogConfig struct {
	Path string `yaml:"path"`
}

// SecretsConfig holds the key used to seal imported credentials.
type SecretsConfig struct {
	Key string `yaml:"key"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	SetDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SetDefaults fills zero-valued fields with working defaults.
func SetDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/kolgrow/app.db"
	}
	if cfg.Tenant.DefaultID == "" {
		cfg.Tenant.DefaultID = "default"
	}
	if cfg.Tenant.Timezone == "" {
		cfg.Tenant.Timezone = "UTC"
	}
	if cfg.Pool.DefaultDailyFollows == 0 {
		cfg.Pool.DefaultDailyFollows = 50
	}
	if cfg.Pool.DefaultDailyDMs == 0 {
		cfg.Pool.DefaultDailyDMs = 30
	}
	if cfg.Pool.CoolingSweepEvery == 0 {
		cfg.Pool.CoolingSweepEvery = 10 * time.Minute
	}
	if cfg.Pool.DefaultCooling == 0 {
		cfg.Pool.DefaultCooling = 6 * time.Hour
	}
	if cfg.Pool.ResetSchedule == "" {
		cfg.Pool.ResetSchedule = "0 0 * * *"
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if cfg.Scheduler.RetryInterval == 0 {
		cfg.Scheduler.RetryInterval = 30 * time.Second
	}
	if cfg.Scheduler.ActionsPerSec == 0 {
		cfg.Scheduler.ActionsPerSec = 0.5
	}
	if cfg.Scheduler.ActionBurst == 0 {
		cfg.Scheduler.ActionBurst = 2
	}
	if cfg.Scheduler.FollowTimeout == 0 {
		cfg.Scheduler.FollowTimeout = 7 * 24 * time.Hour
	}
	if cfg.Scheduler.ActionTimeout == 0 {
		cfg.Scheduler.ActionTimeout = 2 * time.Minute
	}
	if cfg.Conversation.ConversionThreshold == 0 {
		cfg.Conversation.ConversionThreshold = 80
	}
	if cfg.Conversation.MaxUnknownStreak == 0 {
		cfg.Conversation.MaxUnknownStreak = 3
	}
	if cfg.Conversation.InactivityClose == 0 {
		cfg.Conversation.InactivityClose = 14 * 24 * time.Hour
	}
	if cfg.Conversation.ResponderRetries == 0 {
		cfg.Conversation.ResponderRetries = 2
	}
	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = 5 * time.Minute
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
	if cfg.ActionLog.Path == "" {
		cfg.ActionLog.Path = "/var/lib/kolgrow/actions.db"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Tenant.Timezone); err != nil {
		return fmt.Errorf("tenant.timezone is invalid: %w", err)
	}
	if cfg.Conversation.ConversionThreshold < 0 || cfg.Conversation.ConversionThreshold > 100 {
		return fmt.Errorf("conversation.conversion_threshold must be between 0 and 100")
	}
	if cfg.Secrets.Key != "" && len(cfg.Secrets.Key) < 32 {
		return fmt.Errorf("secrets.key must be at least 32 characters")
	}
	return nil
}
