package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultDailyXPCap         int64 = 250
	DefaultDailyEnergyEarnCap int64 = 10
	DefaultHelpDailyLimit           = 5
	DefaultEnergySoftMax      int64 = 10
	DefaultRestorationBonusXP int64 = 10
)

// Reward is the base grant for one action. Once the action has been recorded
// Limit times in the current UTC day, the Reduced values apply instead.
// A zero Limit disables the reduction.
type Reward struct {
	XP            int64 `json:"xp"`
	Energy        int64 `json:"energy"`
	Limit         int   `json:"limit,omitempty"`
	ReducedXP     int64 `json:"reduced_xp,omitempty"`
	ReducedEnergy int64 `json:"reduced_energy,omitempty"`
}

// RuleConfig carries every tunable of the rule engine. It is passed explicitly
// so callers and tests can vary caps without shared state.
type RuleConfig struct {
	DailyXPCap         int64
	DailyEnergyEarnCap int64
	EnergySoftMax      int64
	RestorationBonusXP int64
	// CapRestorationBonus clamps the restoration bonus to the remaining daily XP.
	// Off by default: the bonus is granted after the cap.
	CapRestorationBonus bool
	// CascadePromotion keeps promoting while the next tier is reachable.
	// Off by default: one tier per update.
	CascadePromotion bool
	Rewards          map[ActionType]Reward
}

// DefaultRuleConfig returns the production reward table and caps.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		DailyXPCap:         DefaultDailyXPCap,
		DailyEnergyEarnCap: DefaultDailyEnergyEarnCap,
		EnergySoftMax:      DefaultEnergySoftMax,
		RestorationBonusXP: DefaultRestorationBonusXP,
		Rewards: map[ActionType]Reward{
			ActionProblemAttempt: {XP: 5},
			ActionSolve:          {XP: 15},
			ActionReturn:         {XP: 20},
			ActionHelp:           {XP: 10, Energy: 1, Limit: DefaultHelpDailyLimit, ReducedXP: 2},
		},
	}
}

// WithHelpLimit returns a copy of the config with the help diminishing-return threshold replaced.
func (c RuleConfig) WithHelpLimit(limit int) RuleConfig {
	rewards := make(map[ActionType]Reward, len(c.Rewards))
	for k, v := range c.Rewards {
		rewards[k] = v
	}
	help := rewards[ActionHelp]
	help.Limit = limit
	rewards[ActionHelp] = help
	c.Rewards = rewards
	return c
}

// Validate checks caps and the reward table for negative values.
func (c RuleConfig) Validate() error {
	var errs []string
	if c.DailyXPCap < 0 {
		errs = append(errs, "daily xp cap must be >= 0")
	}
	if c.DailyEnergyEarnCap < 0 {
		errs = append(errs, "daily energy earn cap must be >= 0")
	}
	if c.RestorationBonusXP < 0 {
		errs = append(errs, "restoration bonus must be >= 0")
	}
	if len(c.Rewards) == 0 {
		errs = append(errs, "reward table is empty")
	}
	actions := make([]string, 0, len(c.Rewards))
	for a := range c.Rewards {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	for _, a := range actions {
		r := c.Rewards[ActionType(a)]
		if ActionType(a) == ActionMomentumDecay {
			errs = append(errs, "momentum_decay cannot carry a reward")
		}
		if r.XP < 0 || r.Energy < 0 || r.ReducedXP < 0 || r.ReducedEnergy < 0 || r.Limit < 0 {
			errs = append(errs, fmt.Sprintf("reward for %s has negative values", a))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Deltas is the rule engine output for one action.
type Deltas struct {
	XP     int64
	Energy int64
}

// ComputeDeltas applies the reward table and the daily caps. It is pure:
// the result depends only on its arguments.
//
// Caps apply in order: XP against the remaining daily XP, positive energy
// against the remaining daily earn allowance, then the declared spend is
// subtracted without any cap.
func ComputeDeltas(cfg RuleConfig, action ActionType, today DayTotals, energySpent int64) (Deltas, error) {
	if energySpent < 0 {
		return Deltas{}, ErrInvalidNegativeSpend
	}
	reward, ok := cfg.Rewards[action]
	if !ok || action == ActionMomentumDecay {
		return Deltas{}, fmt.Errorf("%w: %q", ErrUnknownActionType, action)
	}

	d := Deltas{XP: reward.XP, Energy: reward.Energy}
	if reward.Limit > 0 && today.Count(action) >= reward.Limit {
		d = Deltas{XP: reward.ReducedXP, Energy: reward.ReducedEnergy}
	}

	d.XP = clampRemaining(d.XP, cfg.DailyXPCap, today.XP)
	if d.Energy > 0 {
		d.Energy = clampRemaining(d.Energy, cfg.DailyEnergyEarnCap, today.EnergyEarned)
	}
	d.Energy -= energySpent
	return d, nil
}

// ApplyRestorationBonus adds the flat momentum restoration bonus. xpSoFar is
// the day's XP including the already-capped delta of the current action.
// Unless CapRestorationBonus is set the bonus ignores the daily cap.
func ApplyRestorationBonus(cfg RuleConfig, d Deltas, xpSoFar int64) Deltas {
	bonus := cfg.RestorationBonusXP
	if cfg.CapRestorationBonus {
		bonus = clampRemaining(bonus, cfg.DailyXPCap, xpSoFar)
	}
	d.XP += bonus
	return d
}

func clampRemaining(v, limit, used int64) int64 {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	if v > remaining {
		return remaining
	}
	return v
}
