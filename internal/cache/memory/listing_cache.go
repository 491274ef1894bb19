// Package memory provides the default in-process listing cache. It is a pure
// optimization: entries reflect the last known store state or are absent, and
// the whole cache can be dropped at any time without correctness impact.
package memory

import (
	"context"
	"sync"

	"github.com/avelhart/tradehall/internal/domain"
)

// ListingCache implements domain.ListingCache with a mutex-guarded map.
// Per-key operations are atomic; InvalidateAll swaps the map wholesale.
type ListingCache struct {
	mu      sync.RWMutex
	entries map[int64]domain.Listing
}

// NewListingCache creates an empty ListingCache.
func NewListingCache() *ListingCache {
	return &ListingCache{
		entries: make(map[int64]domain.Listing),
	}
}

// Get returns the cached listing or ErrNotFound when absent.
func (c *ListingCache) Get(_ context.Context, id int64) (domain.Listing, error) {
	c.mu.RLock()
	l, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

// Put stores the listing under its id.
func (c *ListingCache) Put(_ context.Context, l domain.Listing) error {
	c.mu.Lock()
	c.entries[l.ID] = l
	c.mu.Unlock()
	return nil
}

// Invalidate removes a single entry.
func (c *ListingCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

// InvalidateAll drops every entry.
func (c *ListingCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[int64]domain.Listing)
	c.mu.Unlock()
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
