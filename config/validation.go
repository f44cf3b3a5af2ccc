package config

import (
	"errors"
	"fmt"
	"strings"
)

func oneOf(value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{AdapterMemory, AdapterFile, AdapterRedis, AdapterSQL, AdapterSQLite}
	if !oneOf(s.Adapter, validAdapters...) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case AdapterFile:
		if s.File.Path == "" {
			errs = append(errs, "file config: path cannot be empty")
		}
	case AdapterSQLite:
		if s.SQLite.Path == "" {
			errs = append(errs, "sqlite config: path cannot be empty")
		}
	case AdapterRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case AdapterSQL:
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	}

	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	validLevels := []string{"debug", "info", "warn", "error"}
	if !oneOf(l.Level, validLevels...) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}
	validFormats := []string{"json", "text"}
	if !oneOf(l.Format, validFormats...) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}
	validOutputs := []string{"stdout", "stderr"}
	if !oneOf(l.Output, validOutputs...) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string
	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}
		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
	}
	if m.PoolStatsInterval < 0 {
		errs = append(errs, "pool_stats_interval must be >= 0")
	}
	return joinErrs(errs)
}

// Validate checks the rule table built from the config.
func (r *RulesConfig) Validate() error {
	if r.EnergySoftMax < 0 {
		return errors.New("energy_soft_max must be >= 0")
	}
	return r.RuleConfig().Validate()
}

// Validate checks a catalog override, if any.
func (l *LeaguesConfig) Validate() error {
	_, err := l.Catalog()
	return err
}

// Validate validates scheduler configuration
func (s *SchedulerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if s.Tick <= 0 {
		errs = append(errs, "tick must be positive")
	}
	if s.DecayInterval <= 0 {
		errs = append(errs, "decay_interval must be positive")
	}
	if _, err := s.WeeklyResetWeekday(); err != nil {
		errs = append(errs, fmt.Sprintf("weekly_reset_day: %v", err))
	}
	if s.WeeklyResetHour < 0 || s.WeeklyResetHour > 23 {
		errs = append(errs, "weekly_reset_hour must be within 0-23")
	}
	if s.MonthlyResetHour < 0 || s.MonthlyResetHour > 23 {
		errs = append(errs, "monthly_reset_hour must be within 0-23")
	}
	if s.AnalyticsFlush < 0 {
		errs = append(errs, "analytics_flush must be >= 0")
	}
	return joinErrs(errs)
}

// Validate validates event dispatch and webhook configuration
func (n *NotificationsConfig) Validate() error {
	var errs []string
	if !oneOf(n.DispatchMode, "sync", "async") {
		errs = append(errs, "dispatch_mode must be one of: sync, async")
	}
	if n.DispatchMode == "async" {
		if n.QueueSize <= 0 {
			errs = append(errs, "queue_size must be positive for async dispatch")
		}
		if n.Workers <= 0 {
			errs = append(errs, "workers must be positive for async dispatch")
		}
	}
	for i, ep := range n.WebhookEndpoints {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			errs = append(errs, fmt.Sprintf("webhook_endpoints[%d] must be an http(s) URL", i))
		}
	}
	if len(n.WebhookEndpoints) > 0 && n.WebhookTimeout <= 0 {
		errs = append(errs, "webhook_timeout must be positive")
	}
	return joinErrs(errs)
}
