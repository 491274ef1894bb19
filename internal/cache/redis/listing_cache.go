package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelhart/tradehall/internal/domain"
)

// listingTTL bounds staleness even if an invalidation is lost; correctness
// never depends on it because settlement re-validates status at the store.
const listingTTL = 5 * time.Minute

// ListingCache implements domain.ListingCache using Redis strings with
// JSON-serialized listings.
//
// Key schema:
//
//	listing:gen          - generation counter, bumped by InvalidateAll
//	listing:{gen}:{id}   - JSON-encoded listing
//
// InvalidateAll increments the generation, which orphans every existing entry
// in O(1); orphans fall out via TTL.
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

const genKey = "listing:gen"

func (lc *ListingCache) generation(ctx context.Context) (int64, error) {
	gen, err := lc.rdb.Get(ctx, genKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: listing cache generation: %w", err)
	}
	return gen, nil
}

func listingKey(gen, id int64) string {
	return fmt.Sprintf("listing:%d:%d", gen, id)
}

// Get retrieves a listing by id, returning domain.ErrNotFound on a miss.
func (lc *ListingCache) Get(ctx context.Context, id int64) (domain.Listing, error) {
	gen, err := lc.generation(ctx)
	if err != nil {
		return domain.Listing{}, err
	}

	data, err := lc.rdb.Get(ctx, listingKey(gen, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %d: %w", id, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %d: %w", id, err)
	}
	return l, nil
}

// Put stores a listing under the current generation with a bounded TTL.
func (lc *ListingCache) Put(ctx context.Context, l domain.Listing) error {
	gen, err := lc.generation(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %d: %w", l.ID, err)
	}
	if err := lc.rdb.Set(ctx, listingKey(gen, l.ID), data, listingTTL).Err(); err != nil {
		return fmt.Errorf("redis: put listing %d: %w", l.ID, err)
	}
	return nil
}

// Invalidate removes a single listing entry.
func (lc *ListingCache) Invalidate(ctx context.Context, id int64) error {
	gen, err := lc.generation(ctx)
	if err != nil {
		return err
	}
	if err := lc.rdb.Del(ctx, listingKey(gen, id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %d: %w", id, err)
	}
	return nil
}

// InvalidateAll orphans every cached listing by bumping the generation.
func (lc *ListingCache) InvalidateAll(ctx context.Context) error {
	if err := lc.rdb.Incr(ctx, genKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate all listings: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
