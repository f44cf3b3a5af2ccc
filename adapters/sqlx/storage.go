package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"xpengine/core"
	"xpengine/engine"
)

// Store implements engine.Storage on a relational database. Each transaction
// runs at SERIALIZABLE isolation; on postgres it also takes a transaction
// scoped advisory lock on the user id so same-user writers queue instead of
// failing serialization.
type Store struct {
	db         *sqlx.DB
	driver     Driver
	maxRetries int
}

// New opens a connection pool and optionally migrates the schema.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := NewWithDB(db, cfg.Driver)
	if cfg.MaxRetries > 0 {
		s.maxRetries = cfg.MaxRetries
	}
	if cfg.AutoMigrate {
		if err := s.Migrate(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver, maxRetries: DefaultConfig(driver).MaxRetries}
}

func (s *Store) Close() error { return s.db.Close() }

// Stats reports connection pool statistics.
func (s *Store) Stats() sql.DBStats { return s.db.Stats() }

func (s *Store) InTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.runTx(ctx, user, fn)
		if !errors.Is(err, core.ErrTransientStorage) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	if s.driver.postgresDialect() {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(user)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to lock user: %w", classify(err))
		}
	}
	if err := fn(&userTx{tx: tx, user: user}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM progress ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]core.UserID, len(ids))
	for i, id := range ids {
		out[i] = core.UserID(id)
	}
	return out, nil
}

type userTx struct {
	tx   *sqlx.Tx
	user core.UserID
	// exists is set once the aggregate rows are known to be present
	exists *bool
}

func (t *userTx) q(query string) string { return t.tx.Rebind(query) }

func (t *userTx) RequestSeen(ctx context.Context, requestID string) (bool, error) {
	var seen bool
	err := t.tx.GetContext(ctx, &seen, t.q(`SELECT EXISTS(SELECT 1 FROM activity_log WHERE request_id = ?)`), requestID)
	if err != nil {
		return false, fmt.Errorf("failed to check request: %w", classify(err))
	}
	return seen, nil
}

type dayRow struct {
	Action string `db:"action_type"`
	N      int    `db:"n"`
	XP     int64  `db:"xp"`
	Earned int64  `db:"earned"`
}

func (t *userTx) DayTotals(ctx context.Context, dayStart time.Time) (core.DayTotals, error) {
	var rows []dayRow
	err := t.tx.SelectContext(ctx, &rows, t.q(`SELECT action_type, COUNT(*) AS n,
		COALESCE(SUM(xp_delta), 0) AS xp,
		COALESCE(SUM(CASE WHEN energy_delta > 0 THEN energy_delta ELSE 0 END), 0) AS earned
		FROM activity_log
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY action_type`), t.user, dayStart.UTC(), dayStart.UTC().Add(24*time.Hour))
	if err != nil {
		return core.DayTotals{}, fmt.Errorf("failed to load day totals: %w", classify(err))
	}
	d := core.DayTotals{ActionCounts: make(map[core.ActionType]int, len(rows))}
	for _, r := range rows {
		d.XP += r.XP
		d.EnergyEarned += r.Earned
		d.ActionCounts[core.ActionType(r.Action)] = r.N
	}
	return d, nil
}

func (t *userTx) XPSince(ctx context.Context, since time.Time) (int64, error) {
	var sum int64
	err := t.tx.GetContext(ctx, &sum, t.q(`SELECT COALESCE(SUM(xp_delta), 0) FROM activity_log WHERE user_id = ? AND created_at >= ?`), t.user, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to load weekly xp: %w", classify(err))
	}
	return sum, nil
}

type snapshotRow struct {
	XPTotal        int64           `db:"xp_total"`
	Level          int64           `db:"level"`
	WeeklyVelocity int64           `db:"weekly_velocity"`
	UpdatedAt      time.Time       `db:"updated_at"`
	Balance        int64           `db:"balance"`
	LifetimeEarned int64           `db:"lifetime_earned"`
	State          string          `db:"state"`
	StreakCount    decimal.Decimal `db:"streak_count"`
	LastActiveAt   time.Time       `db:"last_active_at"`
	DecayHalved    bool            `db:"decay_halved"`
	LeagueRank     int             `db:"league_rank"`
	WeeklyPoints   int64           `db:"weekly_points"`
	MonthlyPoints  int64           `db:"monthly_points"`
	TotalXP        int64           `db:"total_xp"`
}

func (t *userTx) Load(ctx context.Context) (core.Snapshot, bool, error) {
	var r snapshotRow
	err := t.tx.GetContext(ctx, &r, t.q(`SELECT p.xp_total, p.level, p.weekly_velocity, p.updated_at,
		w.balance, w.lifetime_earned,
		m.state, m.streak_count, m.last_active_at, m.decay_halved,
		l.league_rank, l.weekly_points, l.monthly_points, l.total_xp
		FROM progress p
		JOIN energy_wallets w ON w.user_id = p.user_id
		JOIN momentum_states m ON m.user_id = p.user_id
		JOIN league_standings l ON l.user_id = p.user_id
		WHERE p.user_id = ?`), t.user)
	if errors.Is(err, sql.ErrNoRows) {
		t.setExists(false)
		return core.Snapshot{}, false, nil
	}
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("failed to load aggregates: %w", classify(err))
	}
	t.setExists(true)
	return core.Snapshot{
		UserID:   t.user,
		Progress: core.Progress{XPTotal: r.XPTotal, Level: r.Level, WeeklyVelocity: r.WeeklyVelocity},
		Wallet:   core.Wallet{Balance: r.Balance, LifetimeEarned: r.LifetimeEarned},
		Momentum: core.Momentum{
			State:        core.MomentumState(r.State),
			StreakCount:  r.StreakCount,
			LastActiveAt: r.LastActiveAt.UTC(),
			DecayHalved:  r.DecayHalved,
		},
		Standing: core.Standing{
			LeagueRank:    r.LeagueRank,
			WeeklyPoints:  r.WeeklyPoints,
			MonthlyPoints: r.MonthlyPoints,
			TotalXP:       r.TotalXP,
		},
		Updated: r.UpdatedAt.UTC(),
	}, true, nil
}

func (t *userTx) setExists(v bool) { t.exists = &v }

func (t *userTx) Save(ctx context.Context, snap core.Snapshot) error {
	if t.exists == nil {
		var ok bool
		if err := t.tx.GetContext(ctx, &ok, t.q(`SELECT EXISTS(SELECT 1 FROM progress WHERE user_id = ?)`), t.user); err != nil {
			return fmt.Errorf("failed to check aggregates: %w", classify(err))
		}
		t.setExists(ok)
	}
	updated := snap.Updated.UTC()
	var stmts []struct {
		query string
		args  []interface{}
	}
	add := func(q string, args ...interface{}) {
		stmts = append(stmts, struct {
			query string
			args  []interface{}
		}{q, args})
	}
	m := snap.Momentum
	if *t.exists {
		add(`UPDATE progress SET xp_total = ?, level = ?, weekly_velocity = ?, updated_at = ? WHERE user_id = ?`,
			snap.Progress.XPTotal, snap.Progress.Level, snap.Progress.WeeklyVelocity, updated, t.user)
		add(`UPDATE energy_wallets SET balance = ?, lifetime_earned = ?, updated_at = ? WHERE user_id = ?`,
			snap.Wallet.Balance, snap.Wallet.LifetimeEarned, updated, t.user)
		add(`UPDATE momentum_states SET state = ?, streak_count = ?, last_active_at = ?, decay_halved = ?, updated_at = ? WHERE user_id = ?`,
			string(m.State), m.StreakCount, m.LastActiveAt.UTC(), m.DecayHalved, updated, t.user)
		add(`UPDATE league_standings SET league_rank = ?, weekly_points = ?, monthly_points = ?, total_xp = ?, updated_at = ? WHERE user_id = ?`,
			snap.Standing.LeagueRank, snap.Standing.WeeklyPoints, snap.Standing.MonthlyPoints, snap.Standing.TotalXP, updated, t.user)
	} else {
		add(`INSERT INTO progress (user_id, xp_total, level, weekly_velocity, updated_at) VALUES (?, ?, ?, ?, ?)`,
			t.user, snap.Progress.XPTotal, snap.Progress.Level, snap.Progress.WeeklyVelocity, updated)
		add(`INSERT INTO energy_wallets (user_id, balance, lifetime_earned, updated_at) VALUES (?, ?, ?, ?)`,
			t.user, snap.Wallet.Balance, snap.Wallet.LifetimeEarned, updated)
		add(`INSERT INTO momentum_states (user_id, state, streak_count, last_active_at, decay_halved, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			t.user, string(m.State), m.StreakCount, m.LastActiveAt.UTC(), m.DecayHalved, updated)
		add(`INSERT INTO league_standings (user_id, league_rank, weekly_points, monthly_points, total_xp, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			t.user, snap.Standing.LeagueRank, snap.Standing.WeeklyPoints, snap.Standing.MonthlyPoints, snap.Standing.TotalXP, updated)
	}
	for _, st := range stmts {
		if _, err := t.tx.ExecContext(ctx, t.q(st.query), st.args...); err != nil {
			return fmt.Errorf("failed to save aggregates: %w", classify(err))
		}
	}
	t.setExists(true)
	return nil
}

func (t *userTx) Append(ctx context.Context, e core.LedgerEntry) error {
	reqID := sql.NullString{String: e.RequestID, Valid: e.RequestID != ""}
	_, err := t.tx.ExecContext(ctx, t.q(`INSERT INTO activity_log
		(id, user_id, action_type, xp_delta, energy_delta, problems_solved, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, t.user, string(e.Action), e.XPDelta, e.EnergyDelta, e.ProblemsSolved, reqID, e.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return core.ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", classify(err))
	}
	return nil
}

// classify marks serialization failures and deadlocks as transient.
func classify(err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %v", core.ErrTransientStorage, err)
	}
	return err
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

var _ engine.Storage = (*Store)(nil)
