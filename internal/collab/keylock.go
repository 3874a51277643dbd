package collab

import (
	"sync"

	"github.com/google/uuid"
)

// KeyLock hands out one mutex per workspace. Entries are reference counted and
// dropped once nobody holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty KeyLock
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[uuid.UUID]*keyEntry)}
}

// Lock blocks until the lock for id is held and returns its release function
func (k *KeyLock) Lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &keyEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.locks, id)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of workspaces with a held or awaited lock
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
