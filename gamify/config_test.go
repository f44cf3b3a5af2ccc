package gamify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpengine/config"
	"xpengine/core"
	"xpengine/engine"
)

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"memory", config.StorageConfig{Adapter: config.AdapterMemory}},
		{"file", config.StorageConfig{Adapter: config.AdapterFile, File: config.FileConfig{Path: filepath.Join(dir, "state.json")}}},
		{"sqlite", config.StorageConfig{Adapter: config.AdapterSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "xp.db")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup, err := OpenStorage(tt.cfg)
			require.NoError(t, err)
			defer cleanup()

			eng, err := New(WithStorage(storage), WithDispatchMode(engine.DispatchSync))
			require.NoError(t, err)
			res, err := eng.RecordActivity(context.Background(), engine.ActivityRequest{UserID: "u1", Action: core.ActionSolve})
			require.NoError(t, err)
			assert.Equal(t, int64(15), res.NewTotalXP)
		})
	}

	_, _, err := OpenStorage(config.StorageConfig{Adapter: "tape"})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rules.DailyXPCap = 30
	cfg.Leagues.Tiers = []config.LeagueConfig{
		{Rank: 1, Name: "Rookie", MinXP: 0},
		{Rank: 2, Name: "Pro", MinXP: 25},
	}
	cfg.Notifications.DispatchMode = "sync"

	var promoted []core.Event
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	eng, err := FromConfig(cfg, nil, WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	eng.Subscribe(core.EventLeaguePromotion, func(_ context.Context, e core.Event) { promoted = append(promoted, e) })

	for i := 0; i < 3; i++ {
		_, err := eng.RecordActivity(context.Background(), engine.ActivityRequest{UserID: "u1", Action: core.ActionReturn})
		require.NoError(t, err)
	}
	snap, err := eng.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), snap.Progress.XPTotal, "configured cap applies")
	assert.Equal(t, 2, snap.Standing.LeagueRank)
	require.Len(t, promoted, 1)
	assert.Equal(t, "Pro", promoted[0].Data.(core.LeaguePromotion).To.Name)
}
