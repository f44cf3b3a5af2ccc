// Package gormstore persists the engine state in an embedded SQLite database
// through gorm. It needs no external server, which makes it the default
// durable backend for single-node deployments.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"xpengine/core"
	"xpengine/engine"
)

const memoryPath = ":memory:"

// Store implements engine.Storage on SQLite. SQLite has a single writer, so
// transactions are serialized in process as well.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if path == memoryPath {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	} else if err := configureDB(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&activityRow{},
		&progressRow{},
		&walletRow{},
		&momentumRow{},
		&standingRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func configureDB(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats reports connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	sqlDB, err := s.db.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}

func (s *Store) InTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&userTx{db: tx, user: string(user)})
	})
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&progressRow{}).Order("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]core.UserID, len(ids))
	for i, id := range ids {
		out[i] = core.UserID(id)
	}
	return out, nil
}

type userTx struct {
	db   *gorm.DB
	user string
}

func (t *userTx) RequestSeen(_ context.Context, requestID string) (bool, error) {
	var n int64
	if err := t.db.Model(&activityRow{}).Where("request_id = ?", requestID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check request: %w", err)
	}
	return n > 0, nil
}

func (t *userTx) DayTotals(_ context.Context, dayStart time.Time) (core.DayTotals, error) {
	dayStart = dayStart.UTC()
	var rows []dayRow
	err := t.db.Model(&activityRow{}).
		Select("action_type, COUNT(*) AS n, COALESCE(SUM(xp_delta), 0) AS xp, " +
			"COALESCE(SUM(CASE WHEN energy_delta > 0 THEN energy_delta ELSE 0 END), 0) AS earned").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", t.user, dayStart, dayStart.Add(24*time.Hour)).
		Group("action_type").
		Scan(&rows).Error
	if err != nil {
		return core.DayTotals{}, fmt.Errorf("day totals: %w", err)
	}
	d := core.DayTotals{ActionCounts: map[core.ActionType]int{}}
	for _, r := range rows {
		d.XP += r.XP
		d.EnergyEarned += r.Earned
		d.ActionCounts[core.ActionType(r.ActionType)] = r.N
	}
	return d, nil
}

func (t *userTx) XPSince(_ context.Context, since time.Time) (int64, error) {
	var sum int64
	err := t.db.Model(&activityRow{}).
		Select("COALESCE(SUM(xp_delta), 0)").
		Where("user_id = ? AND created_at >= ?", t.user, since.UTC()).
		Row().Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("xp since: %w", err)
	}
	return sum, nil
}

func (t *userTx) Load(_ context.Context) (core.Snapshot, bool, error) {
	var (
		p progressRow
		w walletRow
		m momentumRow
		s standingRow
	)
	err := t.db.Take(&p, "user_id = ?", t.user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Snapshot{}, false, nil
	}
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("load progress: %w", err)
	}
	if err := t.db.Take(&w, "user_id = ?", t.user).Error; err != nil {
		return core.Snapshot{}, false, fmt.Errorf("load wallet: %w", err)
	}
	if err := t.db.Take(&m, "user_id = ?", t.user).Error; err != nil {
		return core.Snapshot{}, false, fmt.Errorf("load momentum: %w", err)
	}
	if err := t.db.Take(&s, "user_id = ?", t.user).Error; err != nil {
		return core.Snapshot{}, false, fmt.Errorf("load standing: %w", err)
	}
	return core.Snapshot{
		UserID:   core.UserID(t.user),
		Progress: core.Progress{XPTotal: p.XPTotal, Level: p.Level, WeeklyVelocity: p.WeeklyVelocity},
		Wallet:   core.Wallet{Balance: w.Balance, LifetimeEarned: w.LifetimeEarned},
		Momentum: core.Momentum{
			State:        core.MomentumState(m.State),
			StreakCount:  m.StreakCount,
			LastActiveAt: m.LastActiveAt.UTC(),
			DecayHalved:  m.DecayHalved,
		},
		Standing: core.Standing{
			LeagueRank:    s.LeagueRank,
			WeeklyPoints:  s.WeeklyPoints,
			MonthlyPoints: s.MonthlyPoints,
			TotalXP:       s.TotalXP,
		},
		Updated: p.Updated.UTC(),
	}, true, nil
}

func (t *userTx) Save(_ context.Context, snap core.Snapshot) error {
	rows := []interface{}{
		&progressRow{
			UserID:         t.user,
			XPTotal:        snap.Progress.XPTotal,
			Level:          snap.Progress.Level,
			WeeklyVelocity: snap.Progress.WeeklyVelocity,
			Updated:        snap.Updated.UTC(),
		},
		&walletRow{UserID: t.user, Balance: snap.Wallet.Balance, LifetimeEarned: snap.Wallet.LifetimeEarned},
		&momentumRow{
			UserID:       t.user,
			State:        string(snap.Momentum.State),
			StreakCount:  snap.Momentum.StreakCount,
			LastActiveAt: snap.Momentum.LastActiveAt.UTC(),
			DecayHalved:  snap.Momentum.DecayHalved,
		},
		&standingRow{
			UserID:        t.user,
			LeagueRank:    snap.Standing.LeagueRank,
			WeeklyPoints:  snap.Standing.WeeklyPoints,
			MonthlyPoints: snap.Standing.MonthlyPoints,
			TotalXP:       snap.Standing.TotalXP,
		},
	}
	for _, row := range rows {
		if err := t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}

func (t *userTx) Append(_ context.Context, e core.LedgerEntry) error {
	row := activityRow{
		ID:             e.ID,
		UserID:         t.user,
		ActionType:     string(e.Action),
		XPDelta:        e.XPDelta,
		EnergyDelta:    e.EnergyDelta,
		ProblemsSolved: e.ProblemsSolved,
		Created:        e.CreatedAt.UTC(),
	}
	if e.RequestID != "" {
		rid := e.RequestID
		row.RequestID = &rid
	}
	if err := t.db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateRequest
		}
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ engine.Storage = (*Store)(nil)
