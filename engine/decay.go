package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"xpengine/core"
)

// SweepResult summarizes one decay sweep.
type SweepResult struct {
	Users        int `json:"users"`
	Transitioned int `json:"transitioned"`
	Failed       int `json:"failed"`
}

// RunDecaySweep ages momentum for every stored user. Each user is handled in
// its own transaction; a failing user is logged and skipped so one bad row
// never blocks the rest. The returned error is set only when the user list
// cannot be read or ctx is cancelled.
func (e *Engine) RunDecaySweep(ctx context.Context) (SweepResult, error) {
	users, err := e.storage.ListUsers(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list users: %w", err)
	}
	now := e.now().UTC()
	res := SweepResult{Users: len(users)}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := e.decayUser(ctx, user, now)
		if err != nil {
			res.Failed++
			e.metrics.SweepFailure()
			e.log.Error("decay sweep failed for user", "user_id", user, "error", err)
			continue
		}
		res.Transitioned += n
	}
	e.log.Info("decay sweep finished", "users", res.Users, "transitioned", res.Transitioned, "failed", res.Failed)
	return res, nil
}

func (e *Engine) decayUser(ctx context.Context, user core.UserID, now time.Time) (int, error) {
	unlock := e.locks.Lock(user)
	defer unlock()

	var (
		steps  []core.MomentumTransition
		events []core.Event
	)
	err := e.storage.InTx(ctx, user, func(tx UserTx) error {
		steps, events = nil, nil
		snap, ok, err := tx.Load(ctx)
		if err != nil || !ok {
			return err
		}
		before := snap.Momentum
		snap.Momentum, steps = core.DecayStep(snap.Momentum, now)
		if len(steps) == 0 {
			return nil
		}
		for _, st := range steps {
			entry := core.LedgerEntry{
				ID:        uuid.NewString(),
				UserID:    user,
				Action:    core.ActionMomentumDecay,
				CreatedAt: now,
			}
			if err := tx.Append(ctx, entry); err != nil {
				return err
			}
			if st.To == core.MomentumUnstable {
				events = append(events, core.NewEvent(user, now, core.StreakDecayWarning{StreakCount: before.StreakCount}))
			}
		}
		snap.Updated = now
		return tx.Save(ctx, snap)
	})
	if err != nil {
		return 0, err
	}
	for _, st := range steps {
		e.metrics.DecayTransition(st.To)
	}
	e.publish(ctx, events)
	return len(steps), nil
}
