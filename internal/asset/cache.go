package asset

import (
	"context"
	"sync"
	"time"
)

// RowCache holds the stored rows of recently read assets.
type RowCache interface {
	Get(ctx context.Context, asset string) ([]Row, bool, error)
	Set(ctx context.Context, asset string, rows []Row) error
	Invalidate(ctx context.Context, asset string) error
	Clear(ctx context.Context) error
}

type cacheEntry struct {
	rows      []Row
	expiresAt time.Time
}

// MemoryCache is an in-process RowCache with a fixed TTL.
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an in-process cache. A non-positive ttl disables expiry.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, asset string) ([]Row, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[asset]
	if !ok || (!entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)) {
		return nil, false, nil
	}
	return entry.rows, true, nil
}

func (c *MemoryCache) Set(_ context.Context, asset string, rows []Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{rows: rows}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[asset] = entry
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, asset string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, asset)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	return nil
}
