package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"xpengine/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

const (
	defaultQueueSize = 2048
	defaultWorkers   = 4
)

// Handler consumes one event. Handlers must not block for long in sync mode:
// they run on the caller's goroutine after the transaction commits.
type Handler func(context.Context, core.Event)

// EventBus is the engine's event sink. It fans events out to handlers
// registered per type or for every type.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]Handler
	all     map[int64]Handler
	nextID  int64
	queue   chan queued
	workers int
	dropped atomic.Int64
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
}

type queued struct {
	ctx context.Context
	ev  core.Event
}

// BusOption tunes an EventBus.
type BusOption func(*EventBus)

// WithQueueSize sets the async buffer length.
func WithQueueSize(n int) BusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.queue = make(chan queued, n)
		}
	}
}

// WithWorkers sets the number of async dispatch goroutines.
func WithWorkers(n int) BusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.workers = n
		}
	}
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	b := &EventBus{
		mode:    mode,
		subs:    make(map[core.EventType]map[int64]Handler),
		all:     make(map[int64]Handler),
		queue:   make(chan queued, defaultQueueSize),
		workers: defaultWorkers,
	}
	for _, o := range opts {
		o(b)
	}
	if mode == DispatchAsync {
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.work()
		}
	}
	return b
}

func (b *EventBus) work() {
	defer b.wg.Done()
	for q := range b.queue {
		// the publishing request may be long gone; keep its values, drop its deadline
		b.dispatch(context.WithoutCancel(q.ctx), q.ev)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *EventBus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	b.closeMu.Unlock()
	if b.mode == DispatchAsync {
		close(b.queue)
		b.wg.Wait()
	}
}

// Subscribe registers a handler for one event type. Returns unsubscribe func.
func (b *EventBus) Subscribe(typ core.EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[typ] == nil {
		b.subs[typ] = make(map[int64]Handler)
	}
	b.subs[typ][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[typ], id)
	}
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish hands ev to subscribers. In async mode a full queue drops the event
// and counts it in Dropped; events published after Close are discarded.
func (b *EventBus) Publish(ctx context.Context, ev core.Event) {
	if b.mode == DispatchAsync {
		b.closeMu.RLock()
		defer b.closeMu.RUnlock()
		if b.closed {
			b.dropped.Add(1)
			return
		}
		select {
		case b.queue <- queued{ctx: ctx, ev: ev}:
		default:
			b.dropped.Add(1)
		}
		return
	}
	b.dispatch(ctx, ev)
}

// Dropped returns how many async events were discarded.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

func (b *EventBus) dispatch(ctx context.Context, ev core.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type])+len(b.all))
	for _, h := range b.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
