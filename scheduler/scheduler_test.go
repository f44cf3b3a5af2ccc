package scheduler

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpengine/analytics"
	"xpengine/core"
	"xpengine/engine"
)

func TestWeeklySchedule_Next(t *testing.T) {
	s := WeeklySchedule{Weekday: time.Monday, Hour: 0}

	// Wednesday 2024-01-03
	next := s.Next(time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), next)

	// exactly on the boundary moves a full week
	next = s.Next(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), next)

	// same weekday before the hour fires the same day
	next = WeeklySchedule{Weekday: time.Monday, Hour: 6}.Next(time.Date(2024, 1, 8, 5, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC), next)
}

func TestMonthlySchedule_Next(t *testing.T) {
	s := MonthlySchedule{Hour: 0}
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), s.Next(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), s.Next(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "@monthly day 1 00:00 UTC", s.String())
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(15 * time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base))
	assert.Equal(t, "@every 15m0s", s.String())
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := New(Options{Tick: 5 * time.Millisecond})
	var runs atomic.Int64
	require.NoError(t, s.Register(JobFunc("count", func(context.Context) error {
		runs.Add(1)
		return nil
	}), NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.GreaterOrEqual(t, jobs[0].Runs, int64(3))
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(Options{Tick: time.Millisecond})
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, s.Register(JobFunc("block", func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}), NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())

	jobs := s.Jobs()
	require.NotNil(t, jobs[0].LastResult)
	assert.ErrorIs(t, jobs[0].LastResult.Err, context.Canceled)
	assert.Equal(t, int64(1), jobs[0].Runs, "a running job is not started again")
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := New(Options{})
	job := JobFunc("fail", func(context.Context) error { return errors.New("boom") })
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)

	res, err := s.RunNow(context.Background(), "fail")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "fail", res.JobName)
	assert.Equal(t, int64(1), s.Jobs()[0].Failures)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

type fakeMaintainer struct {
	sweeps, weekly, monthly int
}

func (f *fakeMaintainer) RunDecaySweep(context.Context) (engine.SweepResult, error) {
	f.sweeps++
	return engine.SweepResult{}, nil
}

func (f *fakeMaintainer) ResetWeekly(context.Context) (int, error) {
	f.weekly++
	return 0, nil
}

func (f *fakeMaintainer) ResetMonthly(context.Context) (int, error) {
	f.monthly++
	return 0, errors.New("monthly failed")
}

func TestEngineJobs(t *testing.T) {
	m := &fakeMaintainer{}
	ctx := context.Background()

	require.NoError(t, DecaySweepJob(m).Run(ctx))
	require.NoError(t, WeeklyResetJob(m).Run(ctx))
	assert.Error(t, MonthlyResetJob(m).Run(ctx))
	assert.Equal(t, 1, m.sweeps)
	assert.Equal(t, 1, m.weekly)
	assert.Equal(t, 1, m.monthly)
	assert.Equal(t, JobDecaySweep, DecaySweepJob(m).Name())

	var got sql.DBStats
	require.NoError(t, DBStatsJob(func() sql.DBStats { return sql.DBStats{InUse: 2} }, func(s sql.DBStats) { got = s }).Run(ctx))
	assert.Equal(t, 2, got.InUse)
}

func TestAnalyticsFlushJob(t *testing.T) {
	agg := analytics.NewAggregator()
	day := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	agg.Handle(context.Background(), core.NewEvent("u1", day, core.LevelUp{Level: 2}))

	var buf bytes.Buffer
	job := AnalyticsFlushJob(agg, analytics.NewJSONExporter(&buf), func() time.Time { return day.Add(24 * time.Hour) })
	assert.Equal(t, JobAnalytics, job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Contains(t, buf.String(), `"day":"2024-05-06"`)
	assert.Empty(t, agg.Days())
}
