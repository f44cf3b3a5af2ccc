package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"xpengine/analytics"
	"xpengine/engine"
)

// Maintainer is the engine's periodic maintenance surface.
type Maintainer interface {
	RunDecaySweep(ctx context.Context) (engine.SweepResult, error)
	ResetWeekly(ctx context.Context) (int, error)
	ResetMonthly(ctx context.Context) (int, error)
}

// Job names used by the worker and the CLI.
const (
	JobDecaySweep   = "decay-sweep"
	JobWeeklyReset  = "weekly-reset"
	JobMonthlyReset = "monthly-reset"
	JobDBStats      = "db-stats"
	JobAnalytics    = "analytics-flush"
)

func DecaySweepJob(m Maintainer) Job {
	return JobFunc(JobDecaySweep, func(ctx context.Context) error {
		_, err := m.RunDecaySweep(ctx)
		return err
	})
}

func WeeklyResetJob(m Maintainer) Job {
	return JobFunc(JobWeeklyReset, func(ctx context.Context) error {
		_, err := m.ResetWeekly(ctx)
		return err
	})
}

func MonthlyResetJob(m Maintainer) Job {
	return JobFunc(JobMonthlyReset, func(ctx context.Context) error {
		_, err := m.ResetMonthly(ctx)
		return err
	})
}

// DBStatsJob copies connection pool statistics from source to sink.
func DBStatsJob(source func() sql.DBStats, sink func(sql.DBStats)) Job {
	return JobFunc(JobDBStats, func(context.Context) error {
		s := source()
		sink(s)
		slog.Debug("db pool stats", "open", s.OpenConnections, "in_use", s.InUse, "idle", s.Idle)
		return nil
	})
}

// AnalyticsFlushJob exports the aggregator's closed days.
func AnalyticsFlushJob(agg *analytics.Aggregator, exp analytics.Exporter, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return JobFunc(JobAnalytics, func(ctx context.Context) error {
		_, err := agg.Flush(ctx, exp, now())
		return err
	})
}
