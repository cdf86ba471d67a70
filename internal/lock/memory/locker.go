// Package memory guards batch refreshes within a single process.
package memory

import (
	"context"
	"sync"
)

// Locker hands out named, non-blocking, in-process locks.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock acquires name if it is free. The returned unlock is idempotent.
func (l *Locker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	l.held[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
