package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xpengine/analytics"
	"xpengine/config"
	"xpengine/engine"
	"xpengine/gamify"
	"xpengine/metrics"
	"xpengine/scheduler"
)

// App aggregates the assembled worker components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Analytics     *analytics.Aggregator
	Storage       engine.Storage
	Engine        *engine.Engine
	Scheduler     *scheduler.Scheduler
	MetricsServer *http.Server
}

// provideConfig reads XPENGINE_CONFIG_FILE when set, otherwise the
// environment alone.
func provideConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := os.Getenv("XPENGINE_CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return config.NewLogger(cfg.Logging)
}

func provideMetrics() *metrics.Recorder {
	return metrics.New()
}

func provideAnalytics() *analytics.Aggregator {
	return analytics.NewAggregator()
}

func provideStorage(cfg *config.Config) (engine.Storage, func(), error) {
	return gamify.OpenStorage(cfg.Storage)
}

func provideEngine(cfg *config.Config, storage engine.Storage, logger *slog.Logger, rec *metrics.Recorder, agg *analytics.Aggregator) (*engine.Engine, func(), error) {
	eng, err := gamify.FromConfig(cfg, storage,
		gamify.WithLogger(logger),
		gamify.WithMetrics(rec),
		gamify.WithSink(agg.Handle),
	)
	if err != nil {
		return nil, nil, err
	}
	return eng, eng.Close, nil
}

type registration struct {
	job      scheduler.Job
	schedule scheduler.Schedule
}

func provideScheduler(cfg *config.Config, logger *slog.Logger, eng *engine.Engine, storage engine.Storage, rec *metrics.Recorder, agg *analytics.Aggregator) (*scheduler.Scheduler, error) {
	sc := cfg.Scheduler
	s := scheduler.New(scheduler.Options{Logger: logger, Tick: sc.Tick})
	if !sc.Enabled {
		return s, nil
	}
	weekday, err := sc.WeeklyResetWeekday()
	if err != nil {
		return nil, err
	}
	jobs := []registration{
		{scheduler.DecaySweepJob(eng), scheduler.NewIntervalSchedule(sc.DecayInterval)},
		{scheduler.WeeklyResetJob(eng), scheduler.WeeklySchedule{Weekday: weekday, Hour: sc.WeeklyResetHour}},
		{scheduler.MonthlyResetJob(eng), scheduler.MonthlySchedule{Hour: sc.MonthlyResetHour}},
	}
	if src, ok := storage.(gamify.StatsSource); ok && cfg.Metrics.Enabled && cfg.Metrics.PoolStatsInterval > 0 {
		jobs = append(jobs, registration{
			scheduler.DBStatsJob(src.Stats, rec.RecordDBPoolStats),
			scheduler.NewIntervalSchedule(cfg.Metrics.PoolStatsInterval),
		})
	}
	if sc.AnalyticsFlush > 0 {
		jobs = append(jobs, registration{
			scheduler.AnalyticsFlushJob(agg, analytics.NewLogExporter(logger), nil),
			scheduler.NewIntervalSchedule(sc.AnalyticsFlush),
		})
	}
	for _, j := range jobs {
		if err := s.Register(j.job, j.schedule); err != nil {
			return nil, fmt.Errorf("register %s: %w", j.job.Name(), err)
		}
	}
	return s, nil
}

// provideMetricsServer returns nil when metrics are disabled.
func provideMetricsServer(cfg *config.Config, rec *metrics.Recorder) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
