package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates notification events handed to the event sink.
type EventType string

const (
	EventEnergyFull         EventType = "energy_full"
	EventLeaguePromotion    EventType = "league_promotion"
	EventLevelUp            EventType = "level_up"
	EventMomentumRestored   EventType = "momentum_restored"
	EventStreakDecayWarning EventType = "streak_decay_warning"
)

// AllEventTypes lists every event type the engine emits.
func AllEventTypes() []EventType {
	return []EventType{EventEnergyFull, EventLeaguePromotion, EventLevelUp, EventMomentumRestored, EventStreakDecayWarning}
}

// Payload is the typed body of an event. The set of implementations is closed.
type Payload interface {
	EventType() EventType
	title() string
}

// EnergyFull fires when an energy grant leaves the wallet at or above the soft max.
type EnergyFull struct {
	Balance int64 `json:"balance"`
}

// LeaguePromotion fires when a standing advances a tier.
type LeaguePromotion struct {
	From League `json:"old_league"`
	To   League `json:"new_league"`
}

// LevelUp fires when the derived level increases.
type LevelUp struct {
	Level int64 `json:"level"`
}

// MomentumRestoration fires when a learning action revives unstable or dormant momentum.
type MomentumRestoration struct {
	StreakCount decimal.Decimal `json:"streak_count"`
}

// StreakDecayWarning fires when the sweep moves a streak to unstable.
type StreakDecayWarning struct {
	StreakCount decimal.Decimal `json:"streak_count"`
}

func (EnergyFull) EventType() EventType          { return EventEnergyFull }
func (LeaguePromotion) EventType() EventType     { return EventLeaguePromotion }
func (LevelUp) EventType() EventType             { return EventLevelUp }
func (MomentumRestoration) EventType() EventType { return EventMomentumRestored }
func (StreakDecayWarning) EventType() EventType  { return EventStreakDecayWarning }

func (EnergyFull) title() string          { return "Energy full" }
func (LeaguePromotion) title() string     { return "League promotion" }
func (LevelUp) title() string             { return "Level up" }
func (MomentumRestoration) title() string { return "Momentum restored" }
func (StreakDecayWarning) title() string  { return "Streak at risk" }

// Event is an immutable notification request.
type Event struct {
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	UserID UserID    `json:"user_id"`
	Title  string    `json:"title"`
	Data   Payload   `json:"data"`
}

// NewEvent wraps a payload for user at the given time.
func NewEvent(user UserID, at time.Time, p Payload) Event {
	return Event{Type: p.EventType(), Time: at.UTC(), UserID: user, Title: p.title(), Data: p}
}

type eventWire struct {
	Type   EventType       `json:"type"`
	Time   time.Time       `json:"time"`
	UserID UserID          `json:"user_id"`
	Title  string          `json:"title"`
	Data   json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the data field into the payload matching the type tag.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var p Payload
	switch w.Type {
	case EventEnergyFull:
		var v EnergyFull
		if err := json.Unmarshal(w.Data, &v); err != nil {
			return err
		}
		p = v
	case EventLeaguePromotion:
		var v LeaguePromotion
		if err := json.Unmarshal(w.Data, &v); err != nil {
			return err
		}
		p = v
	case EventLevelUp:
		var v LevelUp
		if err := json.Unmarshal(w.Data, &v); err != nil {
			return err
		}
		p = v
	case EventMomentumRestored:
		var v MomentumRestoration
		if err := json.Unmarshal(w.Data, &v); err != nil {
			return err
		}
		p = v
	case EventStreakDecayWarning:
		var v StreakDecayWarning
		if err := json.Unmarshal(w.Data, &v); err != nil {
			return err
		}
		p = v
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	*e = Event{Type: w.Type, Time: w.Time, UserID: w.UserID, Title: w.Title, Data: p}
	return nil
}
