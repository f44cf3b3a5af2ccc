package config

import (
	"fmt"
	"time"

	"xpengine/adapters/sqlx"
)

// profiles adjust DefaultConfig for a deployment environment.
var profiles = map[string]func(*Config){
	"development": func(c *Config) {
		c.Environment = EnvDevelopment
		c.Logging.Level = "debug"
		c.Logging.Format = "text"
		c.Notifications.DispatchMode = "sync"
		c.Scheduler.DecayInterval = 10 * time.Minute
	},
	"testing": func(c *Config) {
		c.Environment = EnvTesting
		c.Logging.Level = "warn"
		c.Logging.Format = "text"
		c.Notifications.DispatchMode = "sync"
		c.Scheduler.Enabled = false
	},
	"staging": func(c *Config) {
		c.Environment = EnvStaging
		c.Storage.Adapter = AdapterSQLite
		c.Metrics.Enabled = true
	},
	"production": func(c *Config) {
		c.Environment = EnvProduction
		c.Storage.Adapter = AdapterSQL
		c.Storage.SQL = sqlx.DefaultConfig(sqlx.DriverPgx)
		c.Storage.SQL.MaxOpenConns = 50
		c.Storage.SQL.MaxIdleConns = 10
		c.Metrics.Enabled = true
		c.Logging.Level = "info"
		c.Logging.Format = "json"
		c.Notifications.Workers = 8
	},
}

// LoadProfile returns the defaults of a named profile with environment
// overrides applied.
func LoadProfile(name string) (*Config, error) {
	apply, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg := DefaultConfig()
	cfg.Profile = name
	apply(cfg)
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for profile %s: %w", name, err)
	}
	return cfg, nil
}
