package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpengine/core"
	"xpengine/engine"
	"xpengine/gamify"
	"xpengine/integrations/webhook"
)

var at = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

func TestSink_DeliverPostsEventJSON(t *testing.T) {
	var (
		hits int32
		mu   sync.Mutex
		got  core.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	sink := webhook.New([]string{srv.URL, srv.URL})
	require.NoError(t, sink.Deliver(context.Background(), core.NewEvent("u1", at, core.EnergyFull{Balance: 11})))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, core.EventEnergyFull, got.Type)
	assert.Equal(t, core.EnergyFull{Balance: 11}, got.Data)
}

func TestSink_DeliverReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := webhook.New([]string{srv.URL})
	err := sink.Deliver(context.Background(), core.NewEvent("u1", at, core.LevelUp{Level: 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")

	// Handle swallows the error
	sink.Handle(context.Background(), core.NewEvent("u1", at, core.LevelUp{Level: 2}))
}

func TestSink_EventTypeFilter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := webhook.New([]string{srv.URL}, webhook.WithEventTypes(core.EventLeaguePromotion))
	require.NoError(t, sink.Deliver(context.Background(), core.NewEvent("u1", at, core.LevelUp{Level: 2})))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestSink_ReceivesEngineEvents(t *testing.T) {
	var types []core.EventType
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev core.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			types = append(types, ev.Type)
			mu.Unlock()
		}
	}))
	defer srv.Close()

	rules := core.DefaultRuleConfig()
	rules.EnergySoftMax = 3
	eng, err := gamify.New(
		gamify.WithSink(webhook.New([]string{srv.URL}).Handle),
		gamify.WithRules(rules),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithClock(func() time.Time { return at }),
	)
	require.NoError(t, err)
	defer eng.Close()

	actions := []core.ActionType{core.ActionHelp, core.ActionHelp, core.ActionHelp,
		core.ActionReturn, core.ActionReturn, core.ActionReturn, core.ActionReturn}
	for _, a := range actions {
		_, err := eng.RecordActivity(context.Background(), engine.ActivityRequest{UserID: "helper", Action: a})
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, types, core.EventEnergyFull)
	assert.Contains(t, types, core.EventLevelUp)
}
