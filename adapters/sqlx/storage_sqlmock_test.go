package sqlx_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "xpengine/adapters/sqlx"
	"xpengine/core"
	"xpengine/engine"
)

var now = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T, driver storage.Driver) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	name := "postgres"
	if driver == storage.DriverMySQL {
		name = "mysql"
	}
	xdb := storage.NewWithDB(libsqlx.NewDb(db, name), driver)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func expectLock(mock sqlmock.Sqlmock, user core.UserID) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(user).WillReturnResult(sqlmock.NewResult(0, 0))
}

func snapshotColumns() []string {
	return []string{"xp_total", "level", "weekly_velocity", "updated_at", "balance", "lifetime_earned",
		"state", "streak_count", "last_active_at", "decay_halved", "league_rank", "weekly_points", "monthly_points", "total_xp"}
}

func TestSQLMock_LoadMissingThenInsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()
	user := core.UserID("u1")

	expectLock(mock, user)
	mock.ExpectQuery(`(?s)SELECT p.xp_total, .* FROM progress p`).
		WithArgs(user).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO progress`).
		WithArgs(user, int64(15), int64(1), int64(15), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO energy_wallets`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO momentum_states`).
		WithArgs(user, "stable", sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO league_standings`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InTx(ctx, user, func(tx engine.UserTx) error {
		_, ok, err := tx.Load(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		snap := core.NewSnapshot(user, now, core.League{Rank: 1})
		snap.Progress.XPTotal = 15
		snap.Progress.WeeklyVelocity = 15
		return tx.Save(ctx, snap)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_LoadExistingThenUpdate(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()
	user := core.UserID("u1")

	expectLock(mock, user)
	mock.ExpectQuery(`FROM progress p`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows(snapshotColumns()).
			AddRow(int64(120), int64(2), int64(40), now, int64(3), int64(5), "dormant", "2.5", now.Add(-50*time.Hour), true, 1, int64(40), int64(120), int64(120)))
	mock.ExpectExec(`UPDATE progress SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE energy_wallets SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE momentum_states SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE league_standings SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(ctx, user, func(tx engine.UserTx) error {
		snap, ok, err := tx.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, core.MomentumDormant, snap.Momentum.State)
		assert.Equal(t, "2.5", snap.Momentum.StreakCount.String())
		assert.True(t, snap.Momentum.DecayHalved)
		assert.Equal(t, int64(120), snap.Standing.TotalXP)
		return tx.Save(ctx, snap)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DayTotalsAndVelocity(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()
	user := core.UserID("u1")
	day := core.DayStart(now)

	expectLock(mock, user)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM activity_log WHERE request_id = \$1\)`).
		WithArgs("req-9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FROM activity_log\s+WHERE user_id = \$1 AND created_at >= \$2 AND created_at < \$3`).
		WithArgs(user, day, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"action_type", "n", "xp", "earned"}).
			AddRow("help", 5, int64(50), int64(5)).
			AddRow("solve", 2, int64(30), int64(0)))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(xp_delta\), 0\) FROM activity_log`).
		WithArgs(user, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(140)))
	mock.ExpectCommit()

	err := store.InTx(ctx, user, func(tx engine.UserTx) error {
		seen, err := tx.RequestSeen(ctx, "req-9")
		require.NoError(t, err)
		assert.False(t, seen)

		d, err := tx.DayTotals(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, int64(80), d.XP)
		assert.Equal(t, int64(5), d.EnergyEarned)
		assert.Equal(t, 5, d.Count(core.ActionHelp))

		week, err := tx.XPSince(ctx, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(140), week)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AppendDuplicateRequest(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()
	user := core.UserID("u1")

	expectLock(mock, user)
	mock.ExpectExec(`INSERT INTO activity_log`).
		WithArgs("e1", user, "solve", int64(15), int64(0), 0, "req-1", now).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.InTx(ctx, user, func(tx engine.UserTx) error {
		return tx.Append(ctx, core.LedgerEntry{ID: "e1", Action: core.ActionSolve, XPDelta: 15, RequestID: "req-1", CreatedAt: now})
	})
	assert.ErrorIs(t, err, core.ErrDuplicateRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SerializationFailureRetries(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()
	user := core.UserID("u1")

	for i := 0; i < 2; i++ {
		expectLock(mock, user)
		mock.ExpectExec(`INSERT INTO activity_log`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	}
	expectLock(mock, user)
	mock.ExpectExec(`INSERT INTO activity_log`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	attempts := 0
	err := store.InTx(ctx, user, func(tx engine.UserTx) error {
		attempts++
		return tx.Append(ctx, core.LedgerEntry{ID: "e1", Action: core.ActionReturn, XPDelta: 20, CreatedAt: now})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_MySQLDeadlockIsTransient(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()
	ctx := context.Background()
	user := core.UserID("u1")

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM activity_log WHERE request_id = \?\)`).
			WithArgs("r").
			WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
		mock.ExpectRollback()
	}

	err := store.InTx(ctx, user, func(tx engine.UserTx) error {
		_, err := tx.RequestSeen(ctx, "r")
		return err
	})
	assert.ErrorIs(t, err, core.ErrTransientStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ListUsers(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id FROM progress ORDER BY user_id`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("a").AddRow("b"))

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"a", "b"}, users)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Migrate(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	for _, table := range []string{"activity_log", "activity_log_user_created", "progress", "energy_wallets", "momentum_states", "league_standings"} {
		mock.ExpectExec(table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, storage.DefaultConfig(storage.DriverPgx).Validate())
	require.NoError(t, storage.DefaultConfig(storage.DriverMySQL).Validate())
	assert.Contains(t, storage.DefaultConfig(storage.DriverMySQL).DSN, "parseTime=true")

	bad := storage.DefaultConfig("sqlite")
	assert.Error(t, bad.Validate())
}
