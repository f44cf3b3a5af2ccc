package gamify

import (
	"log/slog"
	"time"

	mem "xpengine/adapters/memory"
	"xpengine/core"
	"xpengine/engine"
	"xpengine/leaderboard"
	"xpengine/realtime"
)

// Option configures the engine builder.
type Option func(*builder)

type builder struct {
	storage engine.Storage
	mode    engine.DispatchMode
	busOpts []engine.BusOption
	rules   core.RuleConfig
	leagues core.Catalog
	hub     *realtime.Hub
	sinks   []engine.Handler
	logger  *slog.Logger
	clock   func() time.Time
	metrics engine.Recorder
	board   leaderboard.Board
	noBoard bool
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *builder) { c.storage = s } }

// WithRules replaces the reward table and caps.
func WithRules(r core.RuleConfig) Option { return func(c *builder) { c.rules = r } }

// WithLeagues replaces the league catalog.
func WithLeagues(l core.Catalog) Option { return func(c *builder) { c.leagues = l } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode, opts ...engine.BusOption) Option {
	return func(c *builder) {
		c.mode = m
		c.busOpts = opts
	}
}

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *builder) { c.hub = h } }

// WithSink subscribes h to every event, e.g. a webhook sink's Handle.
func WithSink(h engine.Handler) Option { return func(c *builder) { c.sinks = append(c.sinks, h) } }

func WithLogger(l *slog.Logger) Option { return func(c *builder) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *builder) { c.clock = now } }

func WithMetrics(r engine.Recorder) Option { return func(c *builder) { c.metrics = r } }

// WithLeaderboard replaces the weekly leaderboard; nil disables it.
func WithLeaderboard(b leaderboard.Board) Option {
	return func(c *builder) {
		c.board = b
		c.noBoard = b == nil
	}
}

// New builds a configured Engine. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: core.DefaultRuleConfig
//   - leagues: core.DefaultCatalog
//   - dispatch: async
//   - leaderboard: skip list
func New(opts ...Option) (*engine.Engine, error) {
	cfg := &builder{
		mode:    engine.DispatchAsync,
		rules:   core.DefaultRuleConfig(),
		leagues: core.DefaultCatalog(),
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.board == nil && !cfg.noBoard {
		cfg.board = leaderboard.NewSkipList()
	}
	bus := engine.NewEventBus(cfg.mode, cfg.busOpts...)
	eng, err := engine.NewEngine(cfg.storage, bus, cfg.rules, cfg.leagues, engine.Options{
		Logger:  cfg.logger,
		Clock:   cfg.clock,
		Metrics: cfg.metrics,
		Board:   cfg.board,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	if cfg.hub != nil {
		eng.SubscribeAll(cfg.hub.Handle)
	}
	for _, h := range cfg.sinks {
		eng.SubscribeAll(h)
	}
	return eng, nil
}
