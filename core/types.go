package core

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserID uniquely identifies a user in the engine. It is opaque: identity
// lookup happens upstream and only the id reaches the engine.
type UserID string

// ActionType names a user action the rule engine knows how to reward.
type ActionType string

const (
	ActionProblemAttempt ActionType = "problem_attempt"
	ActionSolve          ActionType = "solve"
	ActionReturn         ActionType = "return"
	ActionHelp           ActionType = "help"

	// ActionMomentumDecay is written by the decay sweep only; callers cannot submit it.
	ActionMomentumDecay ActionType = "momentum_decay"
)

// IsLearning reports whether the action counts as learning for momentum restoration.
func (a ActionType) IsLearning() bool {
	return a == ActionSolve || a == ActionProblemAttempt
}

// LedgerEntry is one accepted action. Entries are append-only.
type LedgerEntry struct {
	ID             string     `json:"id"`
	UserID         UserID     `json:"user_id"`
	Action         ActionType `json:"action_type"`
	XPDelta        int64      `json:"xp_delta"`
	EnergyDelta    int64      `json:"energy_delta"`
	ProblemsSolved int        `json:"problems_solved,omitempty"`
	RequestID      string     `json:"request_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DayTotals aggregates ledger entries of one UTC day for one user.
type DayTotals struct {
	XP           int64
	EnergyEarned int64
	ActionCounts map[ActionType]int
}

// Add folds an entry into the totals.
func (d *DayTotals) Add(e LedgerEntry) {
	d.XP += e.XPDelta
	if e.EnergyDelta > 0 {
		d.EnergyEarned += e.EnergyDelta
	}
	if d.ActionCounts == nil {
		d.ActionCounts = map[ActionType]int{}
	}
	d.ActionCounts[e.Action]++
}

// Count returns how many times action occurred in the day.
func (d DayTotals) Count(action ActionType) int {
	return d.ActionCounts[action]
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InDay reports whether t falls inside the UTC day starting at dayStart.
func InDay(t, dayStart time.Time) bool {
	return !t.Before(dayStart) && t.Before(dayStart.Add(24*time.Hour))
}

// Progress is cumulative learning progress.
type Progress struct {
	XPTotal        int64 `json:"xp_total"`
	Level          int64 `json:"level"`
	WeeklyVelocity int64 `json:"weekly_velocity"`
}

// Wallet holds the spendable energy currency.
type Wallet struct {
	Balance        int64 `json:"energy_balance"`
	LifetimeEarned int64 `json:"lifetime_earned"`
}

// MomentumState is the streak health state.
type MomentumState string

const (
	MomentumStable   MomentumState = "stable"
	MomentumUnstable MomentumState = "unstable"
	MomentumDormant  MomentumState = "dormant"
	MomentumRestored MomentumState = "restored"
)

// Momentum tracks streak health. StreakCount is fractional because dormancy halves it.
type Momentum struct {
	State        MomentumState   `json:"state"`
	StreakCount  decimal.Decimal `json:"streak_count"`
	LastActiveAt time.Time       `json:"last_active_at"`
	// DecayHalved is set when the sweep halved the streak during the current
	// idle stretch. The next action clears it.
	DecayHalved bool `json:"decay_halved,omitempty"`
}

// Standing is a user's league placement and point accumulators.
type Standing struct {
	LeagueRank    int   `json:"league_rank"`
	WeeklyPoints  int64 `json:"weekly_points"`
	MonthlyPoints int64 `json:"monthly_points"`
	TotalXP       int64 `json:"total_xp"`
}

// Snapshot groups the four per-user aggregates that move together.
type Snapshot struct {
	UserID   UserID    `json:"user_id"`
	Progress Progress  `json:"progress"`
	Wallet   Wallet    `json:"wallet"`
	Momentum Momentum  `json:"momentum"`
	Standing Standing  `json:"standing"`
	Updated  time.Time `json:"updated"`
}

// NewSnapshot returns the lazily created default aggregates for a user.
func NewSnapshot(user UserID, now time.Time, lowest League) Snapshot {
	now = now.UTC()
	return Snapshot{
		UserID:   user,
		Progress: Progress{Level: DefaultLevel(0)},
		Momentum: Momentum{
			State:        MomentumStable,
			StreakCount:  decimal.NewFromInt(1),
			LastActiveAt: now,
		},
		Standing: Standing{LeagueRank: lowest.Rank},
		Updated:  now,
	}
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrEmptyUserID
	}
	return UserID(strings.ToLower(s)), nil
}

// DefaultLevel computes a level from total XP: one level per 100 XP, starting at 1.
func DefaultLevel(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	return 1 + totalXP/100
}
