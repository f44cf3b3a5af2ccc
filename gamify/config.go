package gamify

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"xpengine/adapters/gormstore"
	"xpengine/adapters/jsonfile"
	mem "xpengine/adapters/memory"
	redisAdapter "xpengine/adapters/redis"
	sqlxAdapter "xpengine/adapters/sqlx"
	"xpengine/config"
	"xpengine/engine"
	"xpengine/integrations/webhook"
)

// StatsSource is implemented by storage backed by a database/sql pool.
type StatsSource interface {
	Stats() sql.DBStats
}

// OpenStorage creates the storage adapter selected by cfg. The returned
// cleanup closes any connection the adapter holds.
func OpenStorage(cfg config.StorageConfig) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Adapter {
	case config.AdapterMemory:
		return mem.New(), noop, nil
	case config.AdapterFile:
		s, err := jsonfile.New(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		return s, noop, nil
	case config.AdapterRedis:
		s, err := redisAdapter.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close), nil
	case config.AdapterSQL:
		s, err := sqlxAdapter.New(cfg.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close), nil
	case config.AdapterSQLite:
		s, err := gormstore.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}

func closer(close func() error) func() {
	return func() {
		if err := close(); err != nil {
			slog.Warn("failed to close storage", "error", err)
		}
	}
}

// FromConfig builds an Engine on storage using the rules, leagues and
// notification settings of cfg. opts are applied last.
func FromConfig(cfg *config.Config, storage engine.Storage, opts ...Option) (*engine.Engine, error) {
	leagues, err := cfg.Leagues.Catalog()
	if err != nil {
		return nil, err
	}
	n := cfg.Notifications
	mode := engine.DispatchAsync
	if n.DispatchMode == "sync" {
		mode = engine.DispatchSync
	}
	base := []Option{
		WithStorage(storage),
		WithRules(cfg.Rules.RuleConfig()),
		WithLeagues(leagues),
		WithDispatchMode(mode, engine.WithQueueSize(n.QueueSize), engine.WithWorkers(n.Workers)),
	}
	if len(n.WebhookEndpoints) > 0 {
		sink := webhook.New(n.WebhookEndpoints, webhook.WithClient(&http.Client{Timeout: n.WebhookTimeout}))
		base = append(base, WithSink(sink.Handle))
	}
	return New(append(base, opts...)...)
}
