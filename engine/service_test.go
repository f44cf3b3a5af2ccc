package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "xpengine/adapters/memory"
	"xpengine/core"
	"xpengine/engine"
	"xpengine/leaderboard"
)

// Monday 2024-01-01 20:00 UTC
var t0 = time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	eng    *engine.Engine
	store  *mem.Store
	mu     sync.Mutex
	events []core.Event
	clock  time.Time
	rec    *countingRecorder
}

func newHarness(t *testing.T, rules core.RuleConfig, storage engine.Storage) *harness {
	t.Helper()
	h := &harness{clock: t0, rec: &countingRecorder{outcomes: map[string]int{}}}
	if storage == nil {
		h.store = mem.New()
		storage = h.store
	}
	bus := engine.NewEventBus(engine.DispatchSync)
	eng, err := engine.NewEngine(storage, bus, rules, core.DefaultCatalog(), engine.Options{
		Clock:   func() time.Time { return h.clock },
		Metrics: h.rec,
		Board:   leaderboard.NewSkipList(),
	})
	require.NoError(t, err)
	eng.SubscribeAll(func(_ context.Context, e core.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	})
	h.eng = eng
	return h
}

func (h *harness) record(t *testing.T, user core.UserID, action core.ActionType, at time.Time) engine.ActivityResult {
	t.Helper()
	res, err := h.eng.RecordActivity(context.Background(), engine.ActivityRequest{UserID: user, Action: action, Now: at})
	require.NoError(t, err)
	return res
}

func (h *harness) eventsOf(typ core.EventType) []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []core.Event
	for _, e := range h.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type countingRecorder struct {
	mu          sync.Mutex
	outcomes    map[string]int
	transitions int
	failures    int
	promotions  int
}

func (c *countingRecorder) ActivityRecorded(_ core.ActionType, outcome string, _ int64, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}
func (c *countingRecorder) DecayTransition(core.MomentumState) { c.mu.Lock(); c.transitions++; c.mu.Unlock() }
func (c *countingRecorder) SweepFailure()                      { c.mu.Lock(); c.failures++; c.mu.Unlock() }
func (c *countingRecorder) Promotion(core.League)              { c.mu.Lock(); c.promotions++; c.mu.Unlock() }

func TestNewEngineValidation(t *testing.T) {
	bus := engine.NewEventBus(engine.DispatchSync)
	_, err := engine.NewEngine(nil, bus, core.DefaultRuleConfig(), core.DefaultCatalog(), engine.Options{})
	assert.Error(t, err)

	bad := core.DefaultRuleConfig()
	bad.DailyXPCap = -5
	_, err = engine.NewEngine(mem.New(), bus, bad, core.DefaultCatalog(), engine.Options{})
	assert.Error(t, err)

	_, err = engine.NewEngine(mem.New(), bus, core.DefaultRuleConfig(), core.Catalog{}, engine.Options{})
	assert.Error(t, err)
}

func TestRecordActivity_NewUser(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	res := h.record(t, " Alice ", core.ActionSolve, t0)

	assert.Equal(t, int64(15), res.XPEarned)
	assert.Equal(t, int64(15), res.NewTotalXP)
	assert.Equal(t, int64(1), res.NewLevel)
	assert.Equal(t, "1", res.StreakCount.String())
	assert.Equal(t, core.MomentumStable, res.MomentumState)
	assert.False(t, res.Duplicate)

	entries := h.store.Entries("alice")
	require.Len(t, entries, 1)
	assert.Equal(t, core.ActionSolve, entries[0].Action)
	assert.NotEmpty(t, entries[0].ID)

	snap, err := h.eng.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(15), snap.Standing.WeeklyPoints)
	assert.Equal(t, int64(15), snap.Progress.WeeklyVelocity)
	assert.Equal(t, 1, snap.Standing.LeagueRank)
}

func TestRecordActivity_RestorationAfter30Hours(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	h.record(t, "u", core.ActionSolve, t0)

	res := h.record(t, "u", core.ActionSolve, t0.Add(30*time.Hour))
	assert.Equal(t, core.MomentumRestored, res.MomentumState)
	assert.Equal(t, int64(25), res.XPEarned, "solve plus restoration bonus")
	assert.Equal(t, int64(40), res.NewTotalXP)
	assert.Len(t, h.eventsOf(core.EventMomentumRestored), 1)
}

func TestRecordActivity_ReturnThenSolveRestores(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	h.record(t, "u", core.ActionSolve, t0)

	back := t0.Add(30 * time.Hour)
	res := h.record(t, "u", core.ActionReturn, back)
	assert.Equal(t, core.MomentumUnstable, res.MomentumState)
	assert.Equal(t, int64(20), res.XPEarned)

	res = h.record(t, "u", core.ActionSolve, back.Add(5*time.Minute))
	assert.Equal(t, core.MomentumRestored, res.MomentumState)
	assert.Equal(t, int64(25), res.XPEarned, "solve plus restoration bonus")
	assert.Len(t, h.eventsOf(core.EventMomentumRestored), 1)
}

func TestRecordActivity_DormantHalvesStreak(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	// four consecutive UTC days, 20h apart
	at := t0
	for i := 0; i < 4; i++ {
		h.record(t, "u", core.ActionReturn, at)
		at = at.Add(20 * time.Hour)
	}
	status, err := h.eng.Status(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, "4", status.Momentum.StreakCount.String())

	last := t0.Add(60 * time.Hour)
	res := h.record(t, "u", core.ActionHelp, last.Add(50*time.Hour))
	assert.Equal(t, core.MomentumDormant, res.MomentumState)
	assert.Equal(t, "2", res.StreakCount.String())

	res = h.record(t, "u", core.ActionHelp, last.Add(100*time.Hour))
	assert.Equal(t, core.MomentumDormant, res.MomentumState)
	assert.Equal(t, "1", res.StreakCount.String(), "a second idle stretch halves again")
	assert.Empty(t, h.eventsOf(core.EventMomentumRestored))
}

func TestRecordActivity_HelpDiminishingReturns(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	var res engine.ActivityResult
	for i := 1; i <= 6; i++ {
		res = h.record(t, "u", core.ActionHelp, t0.Add(time.Duration(i)*time.Minute))
		if i == 5 {
			assert.Equal(t, int64(10), res.XPEarned)
			assert.Equal(t, int64(1), res.EnergyDelta)
		}
	}
	assert.Equal(t, int64(2), res.XPEarned)
	assert.Equal(t, int64(0), res.EnergyDelta)
	assert.Equal(t, int64(5), res.EnergyBalance)
}

func TestRecordActivity_DailyXPCap(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	var total int64
	for i := 0; i < 15; i++ {
		res := h.record(t, "u", core.ActionReturn, t0.Add(time.Duration(i)*time.Minute))
		total = res.NewTotalXP
	}
	assert.Equal(t, core.DefaultDailyXPCap, total)

	// the cap resets at the next UTC midnight
	next := h.record(t, "u", core.ActionReturn, time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC))
	assert.Equal(t, int64(20), next.XPEarned)
}

func TestRecordActivity_EnergyFullAndSpend(t *testing.T) {
	rules := core.DefaultRuleConfig().WithHelpLimit(20)
	h := newHarness(t, rules, nil)
	for i := 0; i < 10; i++ {
		h.record(t, "u", core.ActionHelp, t0.Add(time.Duration(i)*time.Second))
	}
	full := h.eventsOf(core.EventEnergyFull)
	require.Len(t, full, 1)
	assert.Equal(t, core.EnergyFull{Balance: 10}, full[0].Data)

	// earn cap reached; the spend still applies
	res, err := h.eng.RecordActivity(context.Background(), engine.ActivityRequest{
		UserID: "u", Action: core.ActionHelp, EnergySpent: 3, Now: t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), res.EnergyDelta)
	assert.Equal(t, int64(7), res.EnergyBalance)

	snap, _ := h.eng.Status(context.Background(), "u")
	assert.Equal(t, int64(10), snap.Wallet.LifetimeEarned)
}

func TestRecordActivity_PromotionBoundary(t *testing.T) {
	rules := core.DefaultRuleConfig()
	rules.DailyXPCap = 10_000
	rules.Rewards[core.ActionReturn] = core.Reward{XP: 980}
	h := newHarness(t, rules, nil)

	h.record(t, "u", core.ActionReturn, t0)
	h.record(t, "u", core.ActionSolve, t0.Add(time.Minute))
	assert.Empty(t, h.eventsOf(core.EventLeaguePromotion), "995 XP stays in the entry league")

	h.record(t, "u", core.ActionSolve, t0.Add(2*time.Minute))
	promos := h.eventsOf(core.EventLeaguePromotion)
	require.Len(t, promos, 1)
	p := promos[0].Data.(core.LeaguePromotion)
	assert.Equal(t, "Biyo", p.From.Name)
	assert.Equal(t, "Geesi", p.To.Name)
	assert.Equal(t, 1, h.rec.promotions)

	assert.NotEmpty(t, h.eventsOf(core.EventLevelUp))
}

func TestRecordActivity_DuplicateRequest(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	req := engine.ActivityRequest{UserID: "u", Action: core.ActionSolve, RequestID: "req-1", Now: t0}

	first, err := h.eng.RecordActivity(context.Background(), req)
	require.NoError(t, err)
	req.Now = t0.Add(time.Minute)
	second, err := h.eng.RecordActivity(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(0), second.XPEarned)
	assert.Equal(t, first.NewTotalXP, second.NewTotalXP)
	assert.Len(t, h.store.Entries("u"), 1)
	assert.Equal(t, 1, h.rec.outcomes[engine.OutcomeDuplicate])
}

type racingStore struct {
	*mem.Store
	raced bool
}

func (r *racingStore) InTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	if !r.raced {
		r.raced = true
		return core.ErrDuplicateRequest
	}
	return r.Store.InTx(ctx, user, fn)
}

func TestRecordActivity_DuplicateLostCommitRace(t *testing.T) {
	store := &racingStore{Store: mem.New()}
	h := newHarness(t, core.DefaultRuleConfig(), store)
	res, err := h.eng.RecordActivity(context.Background(), engine.ActivityRequest{UserID: "u", Action: core.ActionSolve, RequestID: "r", Now: t0})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Empty(t, h.events)
}

func TestRecordActivity_Rejections(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	ctx := context.Background()

	_, err := h.eng.RecordActivity(ctx, engine.ActivityRequest{UserID: "u", Action: core.ActionSolve, EnergySpent: -1})
	assert.ErrorIs(t, err, core.ErrInvalidNegativeSpend)

	_, err = h.eng.RecordActivity(ctx, engine.ActivityRequest{UserID: "u", Action: "dance"})
	assert.ErrorIs(t, err, core.ErrUnknownActionType)

	_, err = h.eng.RecordActivity(ctx, engine.ActivityRequest{UserID: "u", Action: core.ActionMomentumDecay})
	assert.ErrorIs(t, err, core.ErrUnknownActionType)

	_, err = h.eng.RecordActivity(ctx, engine.ActivityRequest{UserID: "u"})
	assert.ErrorIs(t, err, core.ErrUnknownActionType)

	_, err = h.eng.RecordActivity(ctx, engine.ActivityRequest{UserID: "  ", Action: core.ActionSolve})
	assert.ErrorIs(t, err, core.ErrEmptyUserID)

	users, _ := h.store.ListUsers(ctx)
	assert.Empty(t, users, "rejected requests write nothing")
	assert.Equal(t, 5, h.rec.outcomes[engine.OutcomeRejected])
}

func TestRecordActivity_ConcurrentSameUser(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.eng.RecordActivity(context.Background(), engine.ActivityRequest{
				UserID:    "u",
				Action:    core.ActionProblemAttempt,
				RequestID: fmt.Sprintf("req-%d", i%20),
				Now:       t0.Add(time.Duration(i) * time.Second),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := h.eng.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap.Progress.XPTotal, "twenty distinct requests at 5 XP")
	assert.Len(t, h.store.Entries("u"), 20)
}

func TestRecordActivity_StorageErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	store := &failingStore{Store: mem.New(), fail: map[core.UserID]error{"u": boom}}
	h := newHarness(t, core.DefaultRuleConfig(), store)
	_, err := h.eng.RecordActivity(context.Background(), engine.ActivityRequest{UserID: "u", Action: core.ActionSolve})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.events)
	assert.Equal(t, 1, h.rec.outcomes[engine.OutcomeFailed])
}

func TestRecordActivity_ConcurrentWithoutRequestID(t *testing.T) {
	h := newHarness(t, core.DefaultRuleConfig(), nil)
	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.eng.RecordActivity(context.Background(), engine.ActivityRequest{
				UserID: "u",
				Action: core.ActionProblemAttempt,
				Now:    t0.Add(time.Duration(i) * time.Second),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := h.eng.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, int64(n*5), snap.Progress.XPTotal, "no lost updates")
	assert.Equal(t, int64(n*5), snap.Standing.WeeklyPoints)
	assert.Len(t, h.store.Entries("u"), n)
}
