// Package keylock provides mutual-exclusion primitives keyed by an arbitrary
// string ("virtual address"), with an in-process implementation for threads of
// one process and a filesystem-backed implementation for coordination between
// independent OS processes.
package keylock

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrLockAcquisition is returned when a keyed lock cannot be obtained or
	// its backing resource cannot be created.
	ErrLockAcquisition = errors.New("lock acquisition failed")

	// ErrLocksHeld is returned by Clear when at least one lock is still held.
	ErrLocksHeld = errors.New("locks still held")
)

// Handle represents a held lock. Release must be called exactly once,
// typically via defer.
type Handle interface {
	Release()
}

// Locker acquires a lock for a key, blocking until it is available.
// Both KeyLock and FileKeyLock implement this interface.
type Locker interface {
	Acquire(key string) (Handle, error)
}

// entry is a reference-counted lock for one key. The refcount lets the last
// releaser reclaim the map entry deterministically instead of leaking one
// mutex per key ever seen.
type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock is the in-process variant: mutual exclusion among goroutines of a
// single process. Lock state is created lazily on first acquire of a key and
// reclaimed when the last holder releases it.
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyLock creates an empty in-process keyed lock arena.
func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held and returns its handle.
// An empty key is rejected.
func (l *KeyLock) Acquire(key string) (Handle, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrLockAcquisition)
	}

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return &keyHandle{owner: l, key: key, entry: e}, nil
}

// Clear drops all lock entries. It is only safe when no holder is active;
// callers must guarantee quiescence.
func (l *KeyLock) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if e.refs > 0 {
			return fmt.Errorf("%w: key %q", ErrLocksHeld, key)
		}
	}
	l.entries = make(map[string]*entry)
	return nil
}

// Len returns the number of live lock entries.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type keyHandle struct {
	owner *KeyLock
	key   string
	entry *entry
	once  sync.Once
}

// Release unlocks the key and reclaims the entry if this was the last holder.
func (h *keyHandle) Release() {
	h.once.Do(func() {
		h.entry.mu.Unlock()

		h.owner.mu.Lock()
		h.entry.refs--
		if h.entry.refs == 0 {
			delete(h.owner.entries, h.key)
		}
		h.owner.mu.Unlock()
	})
}
