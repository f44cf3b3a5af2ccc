package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"xpengine/core"
)

const velocityWindow = 7 * 24 * time.Hour

// ActivityRequest is one user action submitted to RecordActivity.
type ActivityRequest struct {
	UserID         core.UserID     `json:"user_id" validate:"required,max=128"`
	Action         core.ActionType `json:"action_type" validate:"required"`
	ProblemsSolved int             `json:"problems_solved" validate:"gte=0"`
	EnergySpent    int64           `json:"energy_spent" validate:"gte=0"`
	RequestID      string          `json:"request_id,omitempty" validate:"omitempty,max=128"`
	// Now overrides the engine clock. Zero means the current time.
	Now time.Time `json:"-"`
}

// ActivityResult reports the outcome of RecordActivity. For a duplicate
// request the deltas are zero and the totals are the current ones.
type ActivityResult struct {
	XPEarned      int64              `json:"xp_earned"`
	EnergyDelta   int64              `json:"energy_delta"`
	NewTotalXP    int64              `json:"new_total_xp"`
	NewLevel      int64              `json:"new_level"`
	StreakCount   decimal.Decimal    `json:"streak_count"`
	MomentumState core.MomentumState `json:"momentum_state"`
	EnergyBalance int64              `json:"energy_balance"`
	Duplicate     bool               `json:"duplicate"`
}

func resultFromSnapshot(s core.Snapshot) ActivityResult {
	return ActivityResult{
		NewTotalXP:    s.Progress.XPTotal,
		NewLevel:      s.Progress.Level,
		StreakCount:   s.Momentum.StreakCount,
		MomentumState: s.Momentum.State,
		EnergyBalance: s.Wallet.Balance,
	}
}

// RecordActivity applies one action atomically: it appends a ledger entry and
// updates progress, wallet, momentum and standing in a single transaction.
// A request id already in the ledger short-circuits with Duplicate set and no
// writes. Events are published after the transaction commits.
func (e *Engine) RecordActivity(ctx context.Context, req ActivityRequest) (ActivityResult, error) {
	start := time.Now()
	res, err := e.recordActivity(ctx, req)
	outcome := OutcomeAccepted
	switch {
	case err != nil && isRejection(err):
		outcome = OutcomeRejected
	case err != nil:
		outcome = OutcomeFailed
	case res.Duplicate:
		outcome = OutcomeDuplicate
	}
	e.metrics.ActivityRecorded(req.Action, outcome, res.XPEarned, time.Since(start))
	return res, err
}

func (e *Engine) recordActivity(ctx context.Context, req ActivityRequest) (ActivityResult, error) {
	user, err := core.NormalizeUserID(req.UserID)
	if err != nil {
		return ActivityResult{}, err
	}
	req.UserID = user
	if err := e.validateRequest(req); err != nil {
		return ActivityResult{}, err
	}
	now := req.Now
	if now.IsZero() {
		now = e.now()
	}
	now = now.UTC()

	unlock := e.locks.Lock(user)
	defer unlock()

	var (
		res      ActivityResult
		events   []core.Event
		standing core.Standing
		moved    bool
	)
	err = e.storage.InTx(ctx, user, func(tx UserTx) error {
		res, events, moved = ActivityResult{}, nil, false

		if req.RequestID != "" {
			seen, err := tx.RequestSeen(ctx, req.RequestID)
			if err != nil {
				return fmt.Errorf("check request id: %w", err)
			}
			if seen {
				snap, ok, err := tx.Load(ctx)
				if err != nil {
					return err
				}
				if !ok {
					snap = core.NewSnapshot(user, now, e.leagues.Lowest())
				}
				res = resultFromSnapshot(snap)
				res.Duplicate = true
				return nil
			}
		}

		snap, ok, err := tx.Load(ctx)
		if err != nil {
			return fmt.Errorf("load aggregates: %w", err)
		}
		if !ok {
			snap = core.NewSnapshot(user, now, e.leagues.Lowest())
		}
		today, err := tx.DayTotals(ctx, core.DayStart(now))
		if err != nil {
			return fmt.Errorf("load day totals: %w", err)
		}
		deltas, err := core.ComputeDeltas(e.rules, req.Action, today, req.EnergySpent)
		if err != nil {
			return err
		}

		mom, tr := core.TransitionMomentum(snap.Momentum, req.Action, now)
		snap.Momentum = mom
		if tr.Restored {
			deltas = core.ApplyRestorationBonus(e.rules, deltas, today.XP+deltas.XP)
			events = append(events, core.NewEvent(user, now, core.MomentumRestoration{StreakCount: mom.StreakCount}))
		}

		snap.Wallet.Balance += deltas.Energy
		if deltas.Energy > 0 {
			snap.Wallet.LifetimeEarned += deltas.Energy
			if snap.Wallet.Balance >= e.rules.EnergySoftMax {
				events = append(events, core.NewEvent(user, now, core.EnergyFull{Balance: snap.Wallet.Balance}))
			}
		}

		prevLevel := snap.Progress.Level
		total, err := core.AddSafe(snap.Progress.XPTotal, deltas.XP)
		if err != nil {
			return err
		}
		snap.Progress.XPTotal = total
		snap.Progress.Level = core.DefaultLevel(total)
		if snap.Progress.Level > prevLevel {
			events = append(events, core.NewEvent(user, now, core.LevelUp{Level: snap.Progress.Level}))
		}
		week, err := tx.XPSince(ctx, now.Add(-velocityWindow))
		if err != nil {
			return fmt.Errorf("load weekly xp: %w", err)
		}
		snap.Progress.WeeklyVelocity = week + deltas.XP

		if deltas.XP > 0 {
			var promos []core.Promotion
			snap.Standing, promos = e.leagues.ApplyXP(snap.Standing, deltas.XP, e.rules.CascadePromotion)
			for _, p := range promos {
				events = append(events, core.NewEvent(user, now, core.LeaguePromotion{From: p.From, To: p.To}))
			}
			moved = true
		}

		entry := core.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         user,
			Action:         req.Action,
			XPDelta:        deltas.XP,
			EnergyDelta:    deltas.Energy,
			ProblemsSolved: req.ProblemsSolved,
			RequestID:      req.RequestID,
			CreatedAt:      now,
		}
		if err := tx.Append(ctx, entry); err != nil {
			return err
		}
		snap.Updated = now
		if err := tx.Save(ctx, snap); err != nil {
			return fmt.Errorf("save aggregates: %w", err)
		}

		res = resultFromSnapshot(snap)
		res.XPEarned = deltas.XP
		res.EnergyDelta = deltas.Energy
		standing = snap.Standing
		return nil
	})
	if errors.Is(err, core.ErrDuplicateRequest) {
		// another process committed the same request id first
		e.log.Debug("duplicate request lost commit race", "user_id", user, "request_id", req.RequestID)
		snap, err := e.Status(ctx, user)
		if err != nil {
			return ActivityResult{}, err
		}
		res = resultFromSnapshot(snap)
		res.Duplicate = true
		return res, nil
	}
	if err != nil {
		return ActivityResult{}, err
	}
	if res.Duplicate {
		e.log.Debug("duplicate request ignored", "user_id", user, "request_id", req.RequestID)
		return res, nil
	}

	if moved && e.board != nil {
		e.board.Update(user, standing.WeeklyPoints)
	}
	for _, ev := range events {
		if p, ok := ev.Data.(core.LeaguePromotion); ok {
			e.metrics.Promotion(p.To)
		}
	}
	e.publish(ctx, events)
	return res, nil
}

func (e *Engine) validateRequest(req ActivityRequest) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "EnergySpent" {
				return core.ErrInvalidNegativeSpend
			}
		}
		if len(verrs) > 0 && verrs[0].Field() == "Action" {
			return fmt.Errorf("%w: %q", core.ErrUnknownActionType, req.Action)
		}
	}
	return fmt.Errorf("invalid activity request: %w", err)
}

func isRejection(err error) bool {
	return errors.Is(err, core.ErrUnknownActionType) ||
		errors.Is(err, core.ErrInvalidNegativeSpend) ||
		errors.Is(err, core.ErrEmptyUserID) ||
		errors.As(err, new(validator.ValidationErrors))
}
