package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"xpengine/core"
)

// Hub is a simple pub/sub for broadcasting engine events to in-process
// consumers. Register Handle with Engine.SubscribeAll to feed it.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

type subscriber struct {
	ch   chan core.Event
	user core.UserID // empty receives every user's events
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe returns a channel receiving every event.
func (h *Hub) Subscribe(buffer int) (int, <-chan core.Event) {
	return h.add(subscriber{ch: make(chan core.Event, buffer)})
}

// SubscribeUser returns a channel receiving only user's events.
func (h *Hub) SubscribeUser(user core.UserID, buffer int) (int, <-chan core.Event) {
	return h.add(subscriber{ch: make(chan core.Event, buffer), user: user})
}

func (h *Hub) add(s subscriber) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.subs[h.next] = s
	return h.next, s.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Broadcast delivers ev to every matching subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.user != "" && s.user != ev.UserID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Handle has the engine.Handler signature.
func (h *Hub) Handle(ctx context.Context, ev core.Event) { h.Broadcast(ctx, ev) }

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}

// MarshalJSON is a helper to convert events to their wire form.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
