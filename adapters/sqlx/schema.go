package sqlx

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		xp_delta BIGINT NOT NULL,
		energy_delta BIGINT NOT NULL,
		problems_solved INTEGER NOT NULL DEFAULT 0,
		request_id TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activity_log_user_created ON activity_log (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS progress (
		user_id TEXT PRIMARY KEY,
		xp_total BIGINT NOT NULL,
		level BIGINT NOT NULL,
		weekly_velocity BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS energy_wallets (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL,
		lifetime_earned BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS momentum_states (
		user_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		streak_count NUMERIC(24,8) NOT NULL,
		last_active_at TIMESTAMPTZ NOT NULL,
		decay_halved BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS league_standings (
		user_id TEXT PRIMARY KEY,
		league_rank INTEGER NOT NULL,
		weekly_points BIGINT NOT NULL,
		monthly_points BIGINT NOT NULL,
		total_xp BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS activity_log (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		action_type VARCHAR(32) NOT NULL,
		xp_delta BIGINT NOT NULL,
		energy_delta BIGINT NOT NULL,
		problems_solved INT NOT NULL DEFAULT 0,
		request_id VARCHAR(128) NULL UNIQUE,
		created_at DATETIME(6) NOT NULL,
		INDEX activity_log_user_created (user_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS progress (
		user_id VARCHAR(128) PRIMARY KEY,
		xp_total BIGINT NOT NULL,
		level BIGINT NOT NULL,
		weekly_velocity BIGINT NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS energy_wallets (
		user_id VARCHAR(128) PRIMARY KEY,
		balance BIGINT NOT NULL,
		lifetime_earned BIGINT NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS momentum_states (
		user_id VARCHAR(128) PRIMARY KEY,
		state VARCHAR(16) NOT NULL,
		streak_count DECIMAL(24,8) NOT NULL,
		last_active_at DATETIME(6) NOT NULL,
		decay_halved BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS league_standings (
		user_id VARCHAR(128) PRIMARY KEY,
		league_rank INT NOT NULL,
		weekly_points BIGINT NOT NULL,
		monthly_points BIGINT NOT NULL,
		total_xp BIGINT NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == DriverMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}
