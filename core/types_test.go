package core

import (
	"math"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); err != ErrEmptyUserID {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestDefaultLevel(t *testing.T) {
	cases := map[int64]int64{0: 1, 99: 1, 100: 2, 995: 10, 1000: 11}
	for xp, want := range cases {
		if got := DefaultLevel(xp); got != want {
			t.Fatalf("DefaultLevel(%d) = %d, want %d", xp, got, want)
		}
	}
}

func TestDayTotals(t *testing.T) {
	var d DayTotals
	d.Add(LedgerEntry{Action: ActionHelp, XPDelta: 10, EnergyDelta: 1})
	d.Add(LedgerEntry{Action: ActionSolve, XPDelta: 15, EnergyDelta: -3})
	d.Add(LedgerEntry{Action: ActionHelp, XPDelta: 10, EnergyDelta: 1})
	if d.XP != 35 || d.EnergyEarned != 2 || d.Count(ActionHelp) != 2 || d.Count(ActionReturn) != 0 {
		t.Fatalf("unexpected totals: %+v", d)
	}
}

func TestDayStartAndInDay(t *testing.T) {
	loc := time.FixedZone("plus3", 3*3600)
	ts := time.Date(2024, 3, 10, 1, 30, 0, 0, loc) // 2024-03-09 22:30 UTC
	start := DayStart(ts)
	if !start.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start %v", start)
	}
	if !InDay(ts, start) {
		t.Fatal("timestamp should be inside its own day")
	}
	if InDay(start.Add(24*time.Hour), start) {
		t.Fatal("next midnight belongs to the next day")
	}
}

func TestNewSnapshotDefaults(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSnapshot("u", now, League{Rank: 1})
	if s.Momentum.State != MomentumStable || !s.Momentum.LastActiveAt.Equal(now) {
		t.Fatalf("unexpected momentum %+v", s.Momentum)
	}
	if s.Standing.LeagueRank != 1 || s.Progress.Level != 1 {
		t.Fatalf("unexpected defaults %+v", s)
	}
}
