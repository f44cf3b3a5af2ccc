package engine

import (
	"context"
	"time"

	"xpengine/core"
)

// Storage abstracts persistence for the activity ledger and per-user aggregates.
type Storage interface {
	// InTx runs fn in a transaction scoped to one user. Writes made through tx
	// are visible only if fn returns nil, and concurrent transactions for the
	// same user never interleave. Implementations may run fn more than once
	// when they retry on a write conflict.
	InTx(ctx context.Context, user core.UserID, fn func(tx UserTx) error) error
	// ListUsers returns every user that has stored aggregates.
	ListUsers(ctx context.Context) ([]core.UserID, error)
}

// UserTx is one user's view of storage inside a transaction.
type UserTx interface {
	// RequestSeen reports whether any ledger entry already carries requestID.
	RequestSeen(ctx context.Context, requestID string) (bool, error)
	// DayTotals aggregates the user's entries in [dayStart, dayStart+24h).
	DayTotals(ctx context.Context, dayStart time.Time) (core.DayTotals, error)
	// XPSince sums the user's xp_delta for entries created at or after since.
	XPSince(ctx context.Context, since time.Time) (int64, error)
	// Load returns the user's aggregates; ok is false if none exist yet.
	Load(ctx context.Context) (snap core.Snapshot, ok bool, err error)
	Save(ctx context.Context, snap core.Snapshot) error
	// Append adds a ledger entry. A second entry with the same non-empty
	// request id fails with core.ErrDuplicateRequest.
	Append(ctx context.Context, e core.LedgerEntry) error
}

// Recorder receives engine measurements. metrics.Recorder is the Prometheus one.
type Recorder interface {
	ActivityRecorded(action core.ActionType, outcome string, xp int64, took time.Duration)
	DecayTransition(to core.MomentumState)
	SweepFailure()
	Promotion(to core.League)
}

// Outcomes reported to Recorder.ActivityRecorded.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

type nopRecorder struct{}

func (nopRecorder) ActivityRecorded(core.ActionType, string, int64, time.Duration) {}
func (nopRecorder) DecayTransition(core.MomentumState)                             {}
func (nopRecorder) SweepFailure()                                                  {}
func (nopRecorder) Promotion(core.League)                                          {}
