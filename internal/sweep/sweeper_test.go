package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/avelhart/tradehall/internal/domain"
)

// stubStore implements the two ListingStore methods the sweeper uses; the
// rest panic so an unexpected call fails loudly.
type stubStore struct {
	domain.ListingStore

	mu          sync.Mutex
	rows        map[int64]domain.Listing
	expireErr   error
	purgeErr    error
	purgedCalls int
}

func newStubStore() *stubStore {
	return &stubStore{rows: make(map[int64]domain.Listing)}
}

func (s *stubStore) add(l domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[l.ID] = l
}

func (s *stubStore) status(id int64) domain.ListingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Status
}

func (s *stubStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expireErr != nil {
		return 0, s.expireErr
	}
	var n int64
	for id, l := range s.rows {
		if l.Status == domain.ListingStatusActive && !l.EndsAt.After(now) {
			l.Status = domain.ListingStatusExpired
			s.rows[id] = l
			n++
		}
	}
	return n, nil
}

func (s *stubStore) PurgeResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgedCalls++
	if s.purgeErr != nil {
		return 0, s.purgeErr
	}
	var n int64
	for id, l := range s.rows {
		if l.Status.Resolved() && l.EndsAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

type stubCache struct {
	mu             sync.Mutex
	invalidateAlls int
}

func (c *stubCache) Get(context.Context, int64) (domain.Listing, error) {
	return domain.Listing{}, domain.ErrNotFound
}
func (c *stubCache) Put(context.Context, domain.Listing) error  { return nil }
func (c *stubCache) Invalidate(context.Context, int64) error    { return nil }
func (c *stubCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateAlls++
	return nil
}

func (c *stubCache) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateAlls
}

type stubArchiver struct {
	archived int64
	err      error
	calls    int
}

func (a *stubArchiver) ArchiveListings(context.Context, time.Time) (int64, error) {
	a.calls++
	return a.archived, a.err
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestSweepOnceExpiresOverdue(t *testing.T) {
	store := newStubStore()
	cache := &stubCache{}
	now := time.Now().UTC()

	store.add(domain.Listing{ID: 1, Status: domain.ListingStatusActive, EndsAt: now.Add(-time.Hour)})
	store.add(domain.Listing{ID: 2, Status: domain.ListingStatusActive, EndsAt: now.Add(time.Hour)})
	store.add(domain.Listing{ID: 3, Status: domain.ListingStatusSold, EndsAt: now.Add(-time.Hour)})

	s := New(store, cache, Config{SweepInterval: time.Minute, PurgeInterval: time.Hour, RetentionDays: 14}, testLogger())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	if got := store.status(1); got != domain.ListingStatusExpired {
		t.Errorf("listing 1 status = %s, want expired", got)
	}
	if got := store.status(2); got != domain.ListingStatusActive {
		t.Errorf("listing 2 status = %s, want active", got)
	}
	if got := store.status(3); got != domain.ListingStatusSold {
		t.Errorf("listing 3 status = %s, want sold", got)
	}
	if cache.invalidations() != 1 {
		t.Errorf("cache invalidations = %d, want 1", cache.invalidations())
	}
}

func TestSweepOnceNoWorkSkipsInvalidation(t *testing.T) {
	store := newStubStore()
	cache := &stubCache{}
	s := New(store, cache, Config{SweepInterval: time.Minute, PurgeInterval: time.Hour, RetentionDays: 14}, testLogger())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired = %d, want 0", n)
	}
	if cache.invalidations() != 0 {
		t.Errorf("cache invalidated with no expirations")
	}
}

func TestPurgeOnceArchivesFirst(t *testing.T) {
	store := newStubStore()
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	store.add(domain.Listing{ID: 1, Status: domain.ListingStatusSold, EndsAt: old})
	store.add(domain.Listing{ID: 2, Status: domain.ListingStatusExpired, EndsAt: old})

	arch := &stubArchiver{archived: 1}
	s := New(store, &stubCache{}, Config{SweepInterval: time.Minute, PurgeInterval: time.Hour, RetentionDays: 14}, testLogger()).
		WithArchiver(arch)

	n, err := s.PurgeOnce(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if arch.calls != 1 {
		t.Errorf("archiver calls = %d, want 1", arch.calls)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1 (expired rows are not resolved)", n)
	}
	if got := store.status(2); got != domain.ListingStatusExpired {
		t.Errorf("expired listing was purged; it still holds an unclaimed asset")
	}
}

func TestPurgeOnceSkipsDeleteOnArchiveFailure(t *testing.T) {
	store := newStubStore()
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	store.add(domain.Listing{ID: 1, Status: domain.ListingStatusSold, EndsAt: old})

	arch := &stubArchiver{err: errors.New("s3 unavailable")}
	s := New(store, &stubCache{}, Config{SweepInterval: time.Minute, PurgeInterval: time.Hour, RetentionDays: 14}, testLogger()).
		WithArchiver(arch)

	if _, err := s.PurgeOnce(context.Background()); err == nil {
		t.Fatal("expected error when archival fails")
	}
	if store.purgedCalls != 0 {
		t.Error("purge ran despite archive failure")
	}
	if got := store.status(1); got != domain.ListingStatusSold {
		t.Error("listing deleted despite archive failure")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newStubStore()
	s := New(store, &stubCache{}, Config{SweepInterval: 10 * time.Millisecond, PurgeInterval: 10 * time.Millisecond, RetentionDays: 14}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error on clean shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
