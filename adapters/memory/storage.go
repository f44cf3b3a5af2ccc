package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"xpengine/core"
	"xpengine/engine"
)

// Store is a concurrent in-memory Storage implementation. Each user has its
// own mutex held for the length of a transaction; writes are staged and only
// applied on commit.
type Store struct {
	// mu guards users, requests and every committed field of a userRecord.
	mu       sync.Mutex
	users    map[core.UserID]*userRecord
	requests map[string]core.UserID
	// persist runs under mu after a commit is applied; an error rolls it back.
	persist func(Dump) error
}

type userRecord struct {
	txMu   sync.Mutex
	snap   *core.Snapshot
	ledger []core.LedgerEntry
}

func New() *Store {
	return &Store{users: map[core.UserID]*userRecord{}, requests: map[string]core.UserID{}}
}

// NewPersistent returns a Store that calls persist with the full state after
// every commit. A persist error undoes the commit and is returned from InTx.
func NewPersistent(initial Dump, persist func(Dump) error) *Store {
	s := New()
	s.restore(initial)
	s.persist = persist
	return s
}

func (s *Store) record(user core.UserID) *userRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[user]
	if !ok {
		rec = &userRecord{}
		s.users[user] = rec
	}
	return rec
}

func (s *Store) InTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := s.record(user)
	rec.txMu.Lock()
	defer rec.txMu.Unlock()

	tx := &userTx{store: s, rec: rec, user: user}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(rec, tx)
}

func (s *Store) commit(rec *userRecord, tx *userTx) error {
	if tx.snap == nil && len(tx.entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range tx.entries {
		if e.RequestID == "" {
			continue
		}
		if _, dup := s.requests[e.RequestID]; dup {
			return core.ErrDuplicateRequest
		}
	}
	prevSnap, prevLen := rec.snap, len(rec.ledger)
	if tx.snap != nil {
		snap := *tx.snap
		rec.snap = &snap
	}
	rec.ledger = append(rec.ledger, tx.entries...)
	for _, e := range tx.entries {
		if e.RequestID != "" {
			s.requests[e.RequestID] = tx.user
		}
	}
	if s.persist == nil {
		return nil
	}
	if err := s.persist(s.dumpLocked()); err != nil {
		rec.snap = prevSnap
		rec.ledger = rec.ledger[:prevLen]
		for _, e := range tx.entries {
			delete(s.requests, e.RequestID)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.UserID, 0, len(s.users))
	for id, rec := range s.users {
		if rec.snap != nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Entries returns a copy of the user's committed ledger in insertion order.
func (s *Store) Entries(user core.UserID) []core.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[user]
	if !ok {
		return nil
	}
	return append([]core.LedgerEntry(nil), rec.ledger...)
}

// userTx sees committed state plus its own staged writes.
type userTx struct {
	store   *Store
	rec     *userRecord
	user    core.UserID
	snap    *core.Snapshot
	entries []core.LedgerEntry
}

// committed ledger is only appended under txMu, which this tx holds
func (t *userTx) ledger() []core.LedgerEntry {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.rec.ledger
}

func (t *userTx) RequestSeen(_ context.Context, requestID string) (bool, error) {
	for _, e := range t.entries {
		if e.RequestID == requestID {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.requests[requestID]
	return ok, nil
}

func (t *userTx) each(fn func(core.LedgerEntry)) {
	for _, e := range t.ledger() {
		fn(e)
	}
	for _, e := range t.entries {
		fn(e)
	}
}

func (t *userTx) DayTotals(_ context.Context, dayStart time.Time) (core.DayTotals, error) {
	var d core.DayTotals
	t.each(func(e core.LedgerEntry) {
		if core.InDay(e.CreatedAt, dayStart) {
			d.Add(e)
		}
	})
	return d, nil
}

func (t *userTx) XPSince(_ context.Context, since time.Time) (int64, error) {
	var sum int64
	t.each(func(e core.LedgerEntry) {
		if !e.CreatedAt.Before(since) {
			sum += e.XPDelta
		}
	})
	return sum, nil
}

func (t *userTx) Load(context.Context) (core.Snapshot, bool, error) {
	if t.snap != nil {
		return *t.snap, true, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.rec.snap == nil {
		return core.Snapshot{}, false, nil
	}
	return *t.rec.snap, true, nil
}

func (t *userTx) Save(_ context.Context, snap core.Snapshot) error {
	snap.UserID = t.user
	t.snap = &snap
	return nil
}

func (t *userTx) Append(_ context.Context, e core.LedgerEntry) error {
	if e.RequestID != "" {
		for _, staged := range t.entries {
			if staged.RequestID == e.RequestID {
				return core.ErrDuplicateRequest
			}
		}
	}
	e.UserID = t.user
	t.entries = append(t.entries, e)
	return nil
}

var _ engine.Storage = (*Store)(nil)
