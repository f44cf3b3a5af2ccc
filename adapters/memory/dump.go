package memory

import "xpengine/core"

// Dump is the full committed state of a Store.
type Dump struct {
	Users map[core.UserID]UserDump `json:"users"`
}

// UserDump is one user's aggregates and ledger.
type UserDump struct {
	Snapshot core.Snapshot      `json:"snapshot"`
	Ledger   []core.LedgerEntry `json:"ledger"`
}

// Dump copies the committed state.
func (s *Store) Dump() Dump {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dumpLocked()
}

func (s *Store) dumpLocked() Dump {
	d := Dump{Users: make(map[core.UserID]UserDump, len(s.users))}
	for id, rec := range s.users {
		if rec.snap == nil {
			continue
		}
		d.Users[id] = UserDump{Snapshot: *rec.snap, Ledger: append([]core.LedgerEntry(nil), rec.ledger...)}
	}
	return d
}

func (s *Store) restore(d Dump) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range d.Users {
		snap := u.Snapshot
		rec := &userRecord{snap: &snap, ledger: append([]core.LedgerEntry(nil), u.Ledger...)}
		s.users[id] = rec
		for _, e := range u.Ledger {
			if e.RequestID != "" {
				s.requests[e.RequestID] = id
			}
		}
	}
}
