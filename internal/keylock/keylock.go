// Package keylock provides a registry of named locks, one per key, created on
// first use and dropped when the last holder or waiter lets go.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Registry maps keys to reference-counted binary semaphores
type Registry[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty registry
func New[K comparable]() *Registry[K] {
	return &Registry[K]{entries: make(map[K]*entry)}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release func is safe to call more than once.
func (r *Registry[K]) Acquire(ctx context.Context, key K) (func(), error) {
	// Lookup-or-create and the reference increment happen under one lock, so
	// an entry can never be deleted between being found and being counted.
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[key] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.unref(key, e)
		})
	}, nil
}

// Do runs fn while holding the lock for key. The lock is released even if fn
// panics.
func (r *Registry[K]) Do(ctx context.Context, key K, fn func() error) error {
	release, err := r.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Len returns the number of keys currently held or waited on
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[K]) unref(key K, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, key)
	}
}
