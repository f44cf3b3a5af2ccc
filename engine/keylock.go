package engine

import (
	"sync"

	"xpengine/core"
)

// keyLock hands out one mutex per user and forgets it when nobody holds it.
type keyLock struct {
	mu    sync.Mutex
	users map[core.UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{users: map[core.UserID]*userLock{}}
}

// Lock blocks until user is free and returns the matching unlock.
func (k *keyLock) Lock(user core.UserID) func() {
	k.mu.Lock()
	l, ok := k.users[user]
	if !ok {
		l = &userLock{}
		k.users[user] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.users, user)
		}
		k.mu.Unlock()
	}
}
