package main

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpengine/config"
	"xpengine/core"
	"xpengine/engine"
	"xpengine/scheduler"
)

func TestBuildApp(t *testing.T) {
	t.Setenv("XPENGINE_STORAGE_ADAPTER", "sqlite")
	t.Setenv("XPENGINE_STORAGE_SQLITE_PATH", filepath.Join(t.TempDir(), "xp.db"))
	t.Setenv("XPENGINE_METRICS_ENABLED", "true")
	t.Setenv("XPENGINE_LOG_OUTPUT", "stderr")

	app, cleanup, err := BuildApp(context.Background())
	require.NoError(t, err)
	defer cleanup()

	names := []string{}
	for _, j := range app.Scheduler.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{
		scheduler.JobAnalytics,
		scheduler.JobDBStats,
		scheduler.JobDecaySweep,
		scheduler.JobMonthlyReset,
		scheduler.JobWeeklyReset,
	}, names)
	require.NotNil(t, app.MetricsServer)

	_, err = app.Engine.RecordActivity(context.Background(), engine.ActivityRequest{UserID: "u1", Action: core.ActionSolve})
	require.NoError(t, err)
	_, err = app.Scheduler.RunNow(context.Background(), scheduler.JobDBStats)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.MetricsServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", app.Config.Metrics.Path, nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `xpengine_activities_total{action="solve",outcome="accepted"} 1`)
	assert.Contains(t, string(body), `xpengine_db_connection_pool{stat="open"}`)
}

func TestProvideScheduler_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scheduler.Enabled = false
	s, err := provideScheduler(cfg, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Jobs())
	assert.Nil(t, provideMetricsServer(cfg, nil))
}
