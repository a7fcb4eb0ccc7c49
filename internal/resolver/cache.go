package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/deemusic/deemusic-player/internal/keylock"
)

type cacheEntry struct {
	track   Track
	expires time.Time
}

// CachingResolver memoizes successful resolutions. Concurrent lookups of the
// same reference wait on one keyed lock so only the first reaches next.
type CachingResolver struct {
	next  Resolver
	ttl   time.Duration
	locks *keylock.Registry[string]

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachingResolver wraps next. A ttl of zero keeps entries forever.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		locks:   keylock.New[string](),
		entries: make(map[string]cacheEntry),
	}
}

// Resolve implements Resolver
func (c *CachingResolver) Resolve(ctx context.Context, ref string) (Track, error) {
	key := ref
	if id, ok := ParseReference(ref); ok {
		key = id
	}

	if track, ok := c.lookup(key); ok {
		return track, nil
	}

	var track Track
	err := c.locks.Do(ctx, key, func() error {
		if cached, ok := c.lookup(key); ok {
			track = cached
			return nil
		}

		resolved, err := c.next.Resolve(ctx, ref)
		if err != nil {
			return err
		}

		c.mu.Lock()
		entry := cacheEntry{track: resolved}
		if c.ttl > 0 {
			entry.expires = time.Now().Add(c.ttl)
		}
		c.entries[key] = entry
		c.mu.Unlock()

		track = resolved
		return nil
	})
	return track, err
}

func (c *CachingResolver) lookup(key string) (Track, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return Track{}, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		return Track{}, false
	}
	return entry.track, true
}

// Forget drops the cached entry for ref
func (c *CachingResolver) Forget(ref string) {
	key := ref
	if id, ok := ParseReference(ref); ok {
		key = id
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached entries
func (c *CachingResolver) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
