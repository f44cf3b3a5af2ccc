// Package analytics rolls engine notifications up into per-day engagement
// summaries and hands closed days to exporters.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"xpengine/core"
)

const dayLayout = "2006-01-02"

// DailyStats summarizes the notifications of one UTC day.
type DailyStats struct {
	Day           string           `json:"day"`
	NotifiedUsers int              `json:"notified_users"`
	LevelUps      int64            `json:"level_ups"`
	HighestLevel  int64            `json:"highest_level"`
	Promotions    map[string]int64 `json:"promotions"`
	Restorations  int64            `json:"restorations"`
	DecayWarnings int64            `json:"decay_warnings"`
	EnergyFull    int64            `json:"energy_full"`
}

type bucket struct {
	users map[core.UserID]struct{}
	stats DailyStats
}

// Aggregator is an event handler that keeps one bucket per UTC day.
type Aggregator struct {
	mu   sync.Mutex
	days map[string]*bucket
}

func NewAggregator() *Aggregator {
	return &Aggregator{days: make(map[string]*bucket)}
}

// Handle matches engine.Handler so the aggregator can subscribe to every event.
func (a *Aggregator) Handle(_ context.Context, ev core.Event) {
	day := ev.Time.UTC().Format(dayLayout)

	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.days[day]
	if b == nil {
		b = &bucket{
			users: make(map[core.UserID]struct{}),
			stats: DailyStats{Day: day, Promotions: make(map[string]int64)},
		}
		a.days[day] = b
	}
	b.users[ev.UserID] = struct{}{}
	b.stats.NotifiedUsers = len(b.users)

	switch p := ev.Data.(type) {
	case core.LevelUp:
		b.stats.LevelUps++
		if p.Level > b.stats.HighestLevel {
			b.stats.HighestLevel = p.Level
		}
	case core.LeaguePromotion:
		b.stats.Promotions[p.To.Name]++
	case core.MomentumRestoration:
		b.stats.Restorations++
	case core.StreakDecayWarning:
		b.stats.DecayWarnings++
	case core.EnergyFull:
		b.stats.EnergyFull++
	}
}

// Day returns a copy of the summary for day (YYYY-MM-DD).
func (a *Aggregator) Day(day string) (DailyStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.days[day]
	if !ok {
		return DailyStats{}, false
	}
	return b.snapshot(), true
}

// Days returns every summary ordered by day.
func (a *Aggregator) Days() []DailyStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collect(func(string) bool { return true })
}

// Flush exports every day that ended before now and drops it from memory.
// Days stay buffered when the export fails.
func (a *Aggregator) Flush(ctx context.Context, exp Exporter, now time.Time) (int, error) {
	today := core.DayStart(now).Format(dayLayout)

	a.mu.Lock()
	closed := a.collect(func(day string) bool { return day < today })
	a.mu.Unlock()
	if len(closed) == 0 {
		return 0, nil
	}
	if err := exp.Export(ctx, closed); err != nil {
		return 0, err
	}

	a.mu.Lock()
	for _, s := range closed {
		delete(a.days, s.Day)
	}
	a.mu.Unlock()
	return len(closed), nil
}

// collect must be called with mu held.
func (a *Aggregator) collect(keep func(day string) bool) []DailyStats {
	out := make([]DailyStats, 0, len(a.days))
	for day, b := range a.days {
		if keep(day) {
			out = append(out, b.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func (b *bucket) snapshot() DailyStats {
	s := b.stats
	s.Promotions = make(map[string]int64, len(b.stats.Promotions))
	for k, v := range b.stats.Promotions {
		s.Promotions[k] = v
	}
	return s
}
