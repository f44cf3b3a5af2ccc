package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"xpengine/core"
	"xpengine/leaderboard"
)

// Options carries the optional collaborators of an Engine.
type Options struct {
	Logger *slog.Logger
	// Clock supplies the current time when a request does not carry one.
	Clock   func() time.Time
	Metrics Recorder
	// Board mirrors weekly points for ranking. Nil disables the leaderboard.
	Board leaderboard.Board
}

// Engine turns user actions into XP, energy, momentum and league standing.
type Engine struct {
	storage  Storage
	bus      *EventBus
	rules    core.RuleConfig
	leagues  core.Catalog
	log      *slog.Logger
	now      func() time.Time
	metrics  Recorder
	board    leaderboard.Board
	locks    *keyLock
	validate *validator.Validate
}

func NewEngine(storage Storage, bus *EventBus, rules core.RuleConfig, leagues core.Catalog, opts Options) (*Engine, error) {
	if storage == nil || bus == nil {
		return nil, errors.New("engine requires non-nil storage and event bus")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	if len(leagues.Tiers()) == 0 {
		return nil, errors.New("engine requires a league catalog")
	}
	e := &Engine{
		storage:  storage,
		bus:      bus,
		rules:    rules,
		leagues:  leagues,
		log:      opts.Logger,
		now:      opts.Clock,
		metrics:  opts.Metrics,
		board:    opts.Board,
		locks:    newKeyLock(),
		validate: validator.New(),
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	return e, nil
}

// Subscribe registers a handler for one event type.
func (e *Engine) Subscribe(typ core.EventType, h Handler) func() {
	return e.bus.Subscribe(typ, h)
}

// SubscribeAll registers a handler for every event type.
func (e *Engine) SubscribeAll(h Handler) func() {
	return e.bus.SubscribeAll(h)
}

func (e *Engine) Rules() core.RuleConfig { return e.rules }

func (e *Engine) Leagues() core.Catalog { return e.leagues }

// Status returns a user's aggregates. Users without activity get the defaults
// they would be created with; nothing is written.
func (e *Engine) Status(ctx context.Context, user core.UserID) (core.Snapshot, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Snapshot{}, err
	}
	var snap core.Snapshot
	err = e.storage.InTx(ctx, user, func(tx UserTx) error {
		s, ok, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s = core.NewSnapshot(user, e.now(), e.leagues.Lowest())
		}
		snap = s
		return nil
	})
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("load status: %w", err)
	}
	return snap, nil
}

func (e *Engine) publish(ctx context.Context, events []core.Event) {
	for _, ev := range events {
		e.bus.Publish(ctx, ev)
	}
}

func (e *Engine) Close() { e.bus.Close() }
