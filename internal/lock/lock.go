// Package lock serialises mutations of one cart across concurrent requests.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker runs fn while holding the lock named key. Calls for the same key
// never overlap; calls for different keys do not wait on each other.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are reference counted and
// dropped when the last holder or waiter leaves, so the map only holds keys
// that are in use. It only serialises callers within one process.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

// WithLock waits for key, honouring ctx cancellation while waiting.
func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.acquireRef(key)
	defer l.releaseRef(key, e)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(ErrNotAcquired, ctx.Err())
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}

func (l *Local) acquireRef(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseRef(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
