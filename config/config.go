package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"xpengine/adapters/redis"
	"xpengine/adapters/sqlx"
	"xpengine/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage adapter names.
const (
	AdapterMemory = "memory"
	AdapterFile   = "file"
	AdapterRedis  = "redis"
	AdapterSQL    = "sql"
	AdapterSQLite = "sqlite"
)

// Config holds the complete engine configuration
type Config struct {
	Environment Environment `json:"environment" env:"XPENGINE_ENV"`
	Profile     string      `json:"profile" env:"XPENGINE_PROFILE"`

	Storage       StorageConfig       `json:"storage"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	Rules         RulesConfig         `json:"rules"`
	Leagues       LeaguesConfig       `json:"leagues"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Notifications NotificationsConfig `json:"notifications"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"XPENGINE_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
	SQLite  SQLiteConfig `json:"sqlite,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"XPENGINE_STORAGE_FILE_PATH"`
}

// SQLiteConfig holds embedded SQLite storage configuration
type SQLiteConfig struct {
	Path string `json:"path" env:"XPENGINE_STORAGE_SQLITE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"XPENGINE_LOG_LEVEL"`
	Format     string            `json:"format" env:"XPENGINE_LOG_FORMAT"`
	Output     string            `json:"output" env:"XPENGINE_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"XPENGINE_LOG_ATTRIBUTES"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"XPENGINE_METRICS_ENABLED"`
	Address string `json:"address" env:"XPENGINE_METRICS_ADDR"`
	Path    string `json:"path" env:"XPENGINE_METRICS_PATH"`

	// PoolStatsInterval is how often SQL pool statistics are sampled.
	PoolStatsInterval time.Duration `json:"pool_stats_interval" env:"XPENGINE_METRICS_POOL_STATS_INTERVAL"`
}

// RulesConfig holds reward caps and limits. Per-action rewards keep their
// built-in values; only the help limit is tunable.
type RulesConfig struct {
	DailyXPCap          int64 `json:"daily_xp_cap" env:"XPENGINE_RULES_DAILY_XP_CAP"`
	DailyEnergyEarnCap  int64 `json:"daily_energy_earn_cap" env:"XPENGINE_RULES_DAILY_ENERGY_EARN_CAP"`
	HelpDailyLimit      int   `json:"help_daily_limit" env:"XPENGINE_RULES_HELP_DAILY_LIMIT"`
	EnergySoftMax       int64 `json:"energy_soft_max" env:"XPENGINE_RULES_ENERGY_SOFT_MAX"`
	RestorationBonusXP  int64 `json:"restoration_bonus_xp" env:"XPENGINE_RULES_RESTORATION_BONUS_XP"`
	CapRestorationBonus bool  `json:"cap_restoration_bonus" env:"XPENGINE_RULES_CAP_RESTORATION_BONUS"`
	CascadePromotion    bool  `json:"cascade_promotion" env:"XPENGINE_RULES_CASCADE_PROMOTION"`
}

// RuleConfig converts to the engine's rule table.
func (r RulesConfig) RuleConfig() core.RuleConfig {
	rc := core.DefaultRuleConfig().WithHelpLimit(r.HelpDailyLimit)
	rc.DailyXPCap = r.DailyXPCap
	rc.DailyEnergyEarnCap = r.DailyEnergyEarnCap
	rc.EnergySoftMax = r.EnergySoftMax
	rc.RestorationBonusXP = r.RestorationBonusXP
	rc.CapRestorationBonus = r.CapRestorationBonus
	rc.CascadePromotion = r.CascadePromotion
	return rc
}

// LeagueConfig is one tier of a catalog override.
type LeagueConfig struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	MinXP int64  `json:"min_xp"`
}

// LeaguesConfig optionally replaces the built-in league catalog. It is only
// settable from a config file.
type LeaguesConfig struct {
	Tiers []LeagueConfig `json:"tiers,omitempty"`
}

// Catalog returns the configured catalog, or the default one when no tiers are set.
func (l LeaguesConfig) Catalog() (core.Catalog, error) {
	if len(l.Tiers) == 0 {
		return core.DefaultCatalog(), nil
	}
	tiers := make([]core.League, len(l.Tiers))
	for i, t := range l.Tiers {
		tiers[i] = core.League{Rank: t.Rank, Name: t.Name, MinXP: t.MinXP}
	}
	return core.NewCatalog(tiers)
}

// SchedulerConfig holds the periodic job configuration of the worker.
type SchedulerConfig struct {
	Enabled          bool          `json:"enabled" env:"XPENGINE_SCHEDULER_ENABLED"`
	Tick             time.Duration `json:"tick" env:"XPENGINE_SCHEDULER_TICK"`
	DecayInterval    time.Duration `json:"decay_interval" env:"XPENGINE_SCHEDULER_DECAY_INTERVAL"`
	WeeklyResetDay   string        `json:"weekly_reset_day" env:"XPENGINE_SCHEDULER_WEEKLY_RESET_DAY"`
	WeeklyResetHour  int           `json:"weekly_reset_hour" env:"XPENGINE_SCHEDULER_WEEKLY_RESET_HOUR"`
	MonthlyResetHour int           `json:"monthly_reset_hour" env:"XPENGINE_SCHEDULER_MONTHLY_RESET_HOUR"`

	// AnalyticsFlush is how often closed analytics days are exported. Zero disables.
	AnalyticsFlush time.Duration `json:"analytics_flush" env:"XPENGINE_SCHEDULER_ANALYTICS_FLUSH"`
}

// WeeklyResetWeekday parses WeeklyResetDay.
func (s SchedulerConfig) WeeklyResetWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s.WeeklyResetDay) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s.WeeklyResetDay)
}

// NotificationsConfig holds event dispatch and webhook delivery configuration
type NotificationsConfig struct {
	DispatchMode     string        `json:"dispatch_mode" env:"XPENGINE_EVENTS_DISPATCH_MODE"`
	QueueSize        int           `json:"queue_size" env:"XPENGINE_EVENTS_QUEUE_SIZE"`
	Workers          int           `json:"workers" env:"XPENGINE_EVENTS_WORKERS"`
	WebhookEndpoints []string      `json:"webhook_endpoints,omitempty" env:"XPENGINE_WEBHOOK_ENDPOINTS"`
	WebhookTimeout   time.Duration `json:"webhook_timeout" env:"XPENGINE_WEBHOOK_TIMEOUT"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}
	cleanPath := filepath.Clean(path)
	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}
	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a JSON file. Environment variables
// override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Storage: StorageConfig{
			Adapter: AdapterMemory,
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File:    FileConfig{Path: "./data/xpengine.json"},
			SQLite:  SQLiteConfig{Path: "./data/xpengine.db"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:           false,
			Address:           ":9090",
			Path:              "/metrics",
			PoolStatsInterval: 15 * time.Second,
		},
		Rules: RulesConfig{
			DailyXPCap:         core.DefaultDailyXPCap,
			DailyEnergyEarnCap: core.DefaultDailyEnergyEarnCap,
			HelpDailyLimit:     core.DefaultHelpDailyLimit,
			EnergySoftMax:      core.DefaultEnergySoftMax,
			RestorationBonusXP: core.DefaultRestorationBonusXP,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			Tick:             time.Second,
			DecayInterval:    time.Hour,
			WeeklyResetDay:   "monday",
			WeeklyResetHour:  0,
			MonthlyResetHour: 0,
			AnalyticsFlush:   time.Hour,
		},
		Notifications: NotificationsConfig{
			DispatchMode:   "async",
			QueueSize:      2048,
			Workers:        4,
			WebhookTimeout: 2 * time.Second,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}
	sections := []struct {
		name string
		err  error
	}{
		{"storage", c.Storage.Validate()},
		{"logging", c.Logging.Validate()},
		{"metrics", c.Metrics.Validate()},
		{"rules", c.Rules.Validate()},
		{"leagues", c.Leagues.Validate()},
		{"scheduler", c.Scheduler.Validate()},
		{"notifications", c.Notifications.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, s.err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
