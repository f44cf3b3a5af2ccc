package engine

import (
	"context"
	"fmt"

	"xpengine/core"
	"xpengine/leaderboard"
)

// ResetWeekly zeroes weekly points for every standing and drops each reset
// user from the weekly leaderboard. It returns the number of standings reset.
func (e *Engine) ResetWeekly(ctx context.Context) (int, error) {
	return e.resetPoints(ctx, "weekly", func(s *core.Standing) { s.WeeklyPoints = 0 }, func(user core.UserID) {
		if e.board != nil {
			e.board.Remove(user)
		}
	})
}

// ResetMonthly zeroes monthly points for every standing.
func (e *Engine) ResetMonthly(ctx context.Context) (int, error) {
	return e.resetPoints(ctx, "monthly", func(s *core.Standing) { s.MonthlyPoints = 0 }, nil)
}

// resetPoints applies zero to each user's standing. committed runs under the
// user's lock once that user's reset has been stored.
func (e *Engine) resetPoints(ctx context.Context, period string, zero func(*core.Standing), committed func(core.UserID)) (int, error) {
	users, err := e.storage.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	var (
		reset    int
		failed   int
		firstErr error
	)
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return reset, err
		}
		err := e.withUser(ctx, user, func(tx UserTx) error {
			snap, ok, err := tx.Load(ctx)
			if err != nil || !ok {
				return err
			}
			zero(&snap.Standing)
			return tx.Save(ctx, snap)
		}, committed)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			e.log.Error("points reset failed for user", "period", period, "user_id", user, "error", err)
			continue
		}
		reset++
	}
	e.log.Info("points reset finished", "period", period, "users", reset, "failed", failed)
	if firstErr != nil {
		return reset, fmt.Errorf("%s reset failed for %d users: %w", period, failed, firstErr)
	}
	return reset, nil
}

// WeeklyTop returns the n users with the most weekly points.
func (e *Engine) WeeklyTop(n int) []leaderboard.Entry {
	if e.board == nil {
		return nil
	}
	return e.board.TopN(n)
}

// RebuildLeaderboard reloads the weekly leaderboard from storage, for use
// after a restart.
func (e *Engine) RebuildLeaderboard(ctx context.Context) error {
	if e.board == nil {
		return nil
	}
	users, err := e.storage.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	e.board.Reset()
	for _, user := range users {
		snap, err := e.Status(ctx, user)
		if err != nil {
			return err
		}
		if snap.Standing.WeeklyPoints > 0 {
			e.board.Update(user, snap.Standing.WeeklyPoints)
		}
	}
	return nil
}

// withUser runs fn in a transaction under the user's lock. committed, if
// set, runs after a successful commit and before the lock is released.
func (e *Engine) withUser(ctx context.Context, user core.UserID, fn func(UserTx) error, committed func(core.UserID)) error {
	unlock := e.locks.Lock(user)
	defer unlock()
	if err := e.storage.InTx(ctx, user, fn); err != nil {
		return err
	}
	if committed != nil {
		committed(user)
	}
	return nil
}
