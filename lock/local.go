// Package lock provides critical sections for staking mutations.
//
// Local serialises callers inside one process. Redis extends the same
// guarantee across engine instances sharing a database.
package lock

import (
	"context"
	"sync"
)

// Local is a keyed mutex. Each key is an independent lock; waiting
// callers give up when their context is done.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	held chan struct{}
	refs int
}

// NewLocal returns an empty keyed mutex.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*localKey)}
}

// Lock blocks until key is held or ctx is done. The returned unlock is
// safe to call more than once.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{held: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.held <- struct{}{}:
	case <-ctx.Done():
		l.release(key, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.held
			l.release(key, k)
		})
	}, nil
}

// Held reports how many callers hold or wait for key.
func (l *Local) Held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if k, ok := l.keys[key]; ok {
		return k.refs
	}
	return 0
}

func (l *Local) release(key string, k *localKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}
