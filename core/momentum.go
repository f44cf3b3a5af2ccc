package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	unstableAfter = 24 * time.Hour
	dormantAfter  = 48 * time.Hour
	resetAfter    = 72 * time.Hour
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.New(5, -1)
)

// MomentumTransition describes the outcome of TransitionMomentum.
type MomentumTransition struct {
	From     MomentumState
	To       MomentumState
	Restored bool
}

// TransitionMomentum advances the streak state machine for one accepted action
// at now. The elapsed time since the last activity picks the base state:
//
//	< 24h, new UTC day   stable,   streak +1
//	< 24h, same UTC day  stable,   streak unchanged
//	24h..48h             unstable, streak unchanged
//	48h..72h             dormant,  streak halved unless already decaying
//	>= 72h               dormant,  streak reset to 0
//
// "Already decaying" means the row sat in unstable, or the sweep halved it
// on the way to dormant. A learning action restores momentum when the prior
// state or the table's result is unstable or dormant. LastActiveAt always
// moves to now.
func TransitionMomentum(m Momentum, action ActionType, now time.Time) (Momentum, MomentumTransition) {
	now = now.UTC()
	prior := m.State
	elapsed := now.Sub(m.LastActiveAt)
	next := m

	switch {
	case elapsed < unstableAfter:
		if DayStart(m.LastActiveAt).Before(DayStart(now)) {
			next.StreakCount = next.StreakCount.Add(one)
		}
		next.State = MomentumStable
	case elapsed < dormantAfter:
		next.State = MomentumUnstable
	case elapsed < resetAfter:
		if prior != MomentumUnstable && !m.DecayHalved {
			next.StreakCount = next.StreakCount.Mul(half)
		}
		next.State = MomentumDormant
	default:
		next.StreakCount = decimal.Zero
		next.State = MomentumDormant
	}

	tr := MomentumTransition{From: prior}
	if action.IsLearning() && (decaying(prior) || decaying(next.State)) {
		next.State = MomentumRestored
		tr.Restored = true
	}
	// any non-dormant state counts today as an active day
	if next.State != MomentumDormant && next.StreakCount.Sign() <= 0 {
		next.StreakCount = one
	}
	next.LastActiveAt = now
	next.DecayHalved = false
	tr.To = next.State
	return next, tr
}

func decaying(s MomentumState) bool {
	return s == MomentumUnstable || s == MomentumDormant
}

// DecayStep ages an idle momentum row at now, as the periodic sweep does.
// A row idle long enough can move through both steps in one call.
func DecayStep(m Momentum, now time.Time) (Momentum, []MomentumTransition) {
	var steps []MomentumTransition
	idle := now.Sub(m.LastActiveAt)
	if (m.State == MomentumStable || m.State == MomentumRestored) && idle > unstableAfter {
		steps = append(steps, MomentumTransition{From: m.State, To: MomentumUnstable})
		m.State = MomentumUnstable
	}
	if m.State == MomentumUnstable && idle > dormantAfter {
		steps = append(steps, MomentumTransition{From: m.State, To: MomentumDormant})
		m.State = MomentumDormant
		m.StreakCount = m.StreakCount.Mul(half)
		m.DecayHalved = true
	}
	return m, steps
}
