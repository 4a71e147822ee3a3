package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"FiveSBot/internal/busday"
)

const (
	defaultTimezone = "Asia/Ho_Chi_Minh"

	configPathEnv    = "FIVESBOT_CONFIG"
	databaseDSNEnv   = "DATABASE_DSN"
	telegramTokenEnv = "FIVESBOT_TELEGRAM_TOKEN"
	groupIDEnv       = "FIVESBOT_GROUP_ID"
)

// Storage backend selectors.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Progress coalescing policy selectors.
const (
	PolicyEdit      = "edit"
	PolicyAggregate = "aggregate"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Tracking TrackingConfig `yaml:"tracking"`
	Progress ProgressConfig `yaml:"progress"`
	Report   ReportConfig   `yaml:"report"`
	Storage  StorageConfig  `yaml:"storage"`
	Registry RegistryConfig `yaml:"registry"`
	Telegram TelegramConfig `yaml:"telegram"`

	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// LoggingConfig selects the slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TrackingConfig drives business-day rollover and duplicate detection.
type TrackingConfig struct {
	Cutoff           string  `yaml:"cutoff"`
	RequiredCount    int     `yaml:"requiredCount"`
	NearDupThreshold float64 `yaml:"nearDupThreshold"`
	LookbackDays     int     `yaml:"lookbackDays"`
}

// ProgressConfig selects and tunes the session coalescing policy.
type ProgressConfig struct {
	Policy        string `yaml:"policy"`
	EditWindowSec int    `yaml:"editWindowSec"`
	FlushDelaySec int    `yaml:"flushDelaySec"`
}

// EditWindow returns the edit-in-place session window.
func (p ProgressConfig) EditWindow() time.Duration {
	return time.Duration(p.EditWindowSec) * time.Second
}

// FlushDelay returns the aggregate-policy flush delay.
func (p ProgressConfig) FlushDelay() time.Duration {
	return time.Duration(p.FlushDelaySec) * time.Second
}

// ReportConfig defines when the daily report fires, local time.
type ReportConfig struct {
	Time string `yaml:"time"`
}

// StorageConfig selects the ledger persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	DSN     string `yaml:"dsn"`
}

// RegistryConfig points at the warehouse list spreadsheet.
type RegistryConfig struct {
	Path  string `yaml:"path"`
	Sheet string `yaml:"sheet"`
}

// TelegramConfig wires all data required to poll and send messages.
type TelegramConfig struct {
	BotToken       string `yaml:"botToken"`
	GroupID        string `yaml:"groupId"`
	PollTimeoutSec int    `yaml:"pollTimeoutSec"`
}

// PollTimeout returns the long-poll timeout for getUpdates.
func (t TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(t.PollTimeoutSec) * time.Second
}

// Location resolves the configured timezone to a time.Location.
func (c Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Cutoff parses the tracking cutoff. Validate guarantees it parses.
func (c Config) Cutoff() busday.Cutoff {
	cutoff, _ := busday.ParseCutoff(c.Tracking.Cutoff)
	return cutoff
}

// ReportTime parses the daily report time. Validate guarantees it parses.
func (c Config) ReportTime() busday.Cutoff {
	at, _ := busday.ParseCutoff(c.Report.Time)
	return at
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Validate rejects configurations the process cannot safely start with.
func (c Config) Validate() error {
	if _, err := busday.ParseCutoff(c.Tracking.Cutoff); err != nil {
		return fmt.Errorf("tracking cutoff: %w", err)
	}
	if _, err := busday.ParseCutoff(c.Report.Time); err != nil {
		return fmt.Errorf("report time: %w", err)
	}
	if c.Tracking.RequiredCount < 1 {
		return fmt.Errorf("requiredCount must be at least 1, got %d", c.Tracking.RequiredCount)
	}
	if c.Tracking.NearDupThreshold <= 0 || c.Tracking.NearDupThreshold > 1 {
		return fmt.Errorf("nearDupThreshold must be in (0, 1], got %v", c.Tracking.NearDupThreshold)
	}
	if c.Tracking.LookbackDays < 0 {
		return fmt.Errorf("lookbackDays must not be negative, got %d", c.Tracking.LookbackDays)
	}
	switch c.Progress.Policy {
	case PolicyEdit, PolicyAggregate:
	default:
		return fmt.Errorf("unknown progress policy %q", c.Progress.Policy)
	}
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("file storage requires a data dir")
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("postgres storage requires a DSN")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.DSN = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(groupIDEnv); v != "" {
		c.Telegram.GroupID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	if override.Timezone != "" {
		base.Timezone = override.Timezone
	}

	if override.Tracking.Cutoff != "" {
		base.Tracking.Cutoff = override.Tracking.Cutoff
	}
	if override.Tracking.RequiredCount != 0 {
		base.Tracking.RequiredCount = override.Tracking.RequiredCount
	}
	if override.Tracking.NearDupThreshold != 0 {
		base.Tracking.NearDupThreshold = override.Tracking.NearDupThreshold
	}
	if override.Tracking.LookbackDays != 0 {
		base.Tracking.LookbackDays = override.Tracking.LookbackDays
	}

	if override.Progress.Policy != "" {
		base.Progress.Policy = override.Progress.Policy
	}
	if override.Progress.EditWindowSec != 0 {
		base.Progress.EditWindowSec = override.Progress.EditWindowSec
	}
	if override.Progress.FlushDelaySec != 0 {
		base.Progress.FlushDelaySec = override.Progress.FlushDelaySec
	}

	if override.Report.Time != "" {
		base.Report.Time = override.Report.Time
	}

	if override.Storage.Backend != "" {
		base.Storage.Backend = override.Storage.Backend
	}
	if override.Storage.Dir != "" {
		base.Storage.Dir = override.Storage.Dir
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}

	if override.Registry.Path != "" {
		base.Registry.Path = override.Registry.Path
	}
	if override.Registry.Sheet != "" {
		base.Registry.Sheet = override.Registry.Sheet
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.GroupID != "" {
		base.Telegram.GroupID = override.Telegram.GroupID
	}
	if override.Telegram.PollTimeoutSec != 0 {
		base.Telegram.PollTimeoutSec = override.Telegram.PollTimeoutSec
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracking: TrackingConfig{
			Cutoff:           "20:30",
			RequiredCount:    4,
			NearDupThreshold: 0.90,
			LookbackDays:     90,
		},
		Progress: ProgressConfig{
			Policy:        PolicyEdit,
			EditWindowSec: 120,
			FlushDelaySec: 5,
		},
		Report: ReportConfig{Time: "21:00"},
		Storage: StorageConfig{
			Backend: BackendFile,
			Dir:     "data",
		},
		Registry: RegistryConfig{Path: "danh_sach_kho_theo_doi.xlsx"},
		Telegram: TelegramConfig{PollTimeoutSec: 30},
		Timezone: defaultTimezone,
		location: tz,
	}
}
