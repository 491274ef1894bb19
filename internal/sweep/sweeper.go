// Package sweep runs the background maintenance loops: expiring listings whose
// deadline has passed, and archiving then purging resolved listings past the
// retention window.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avelhart/tradehall/internal/domain"
)

// Archiver writes resolved listings to cold storage before they are purged.
type Archiver interface {
	ArchiveListings(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier delivers sweep event notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the sweeper intervals and retention window.
type Config struct {
	SweepInterval time.Duration
	PurgeInterval time.Duration
	RetentionDays int
}

// Sweeper owns the expiration and retention loops. One instance runs per
// deployment; running more is safe because every mutation is a conditional
// update or an idempotent delete, just wasteful.
type Sweeper struct {
	listings domain.ListingStore
	cache    domain.ListingCache
	archiver Archiver // optional
	notifier Notifier // optional
	cfg      Config
	logger   *slog.Logger
}

// New creates a Sweeper.
func New(listings domain.ListingStore, cache domain.ListingCache, cfg Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		listings: listings,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithArchiver attaches a cold-storage archiver. Without one, purge runs
// deletion only.
func (s *Sweeper) WithArchiver(a Archiver) *Sweeper {
	s.archiver = a
	return s
}

// WithNotifier attaches an event notifier.
func (s *Sweeper) WithNotifier(n Notifier) *Sweeper {
	s.notifier = n
	return s
}

// Run starts the sweep and purge loops and blocks until ctx is cancelled. Loop
// iterations log failures and keep going; only context cancellation stops the
// loops.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper starting",
		slog.Duration("sweep_interval", s.cfg.SweepInterval),
		slog.Duration("purge_interval", s.cfg.PurgeInterval),
		slog.Int("retention_days", s.cfg.RetentionDays),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.runSweepLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("sweep loop: %w", err)
	})

	g.Go(func() error {
		err := s.runPurgeLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("purge loop: %w", err)
	})

	err := g.Wait()
	if err != nil {
		s.logger.Error("sweeper stopped with error", slog.String("error", err.Error()))
		return err
	}

	s.logger.Info("sweeper stopped cleanly")
	return nil
}

func (s *Sweeper) runSweepLoop(ctx context.Context) error {
	// Sweep immediately on start so a restart does not extend listings past
	// their deadline by a full interval.
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Sweeper) runPurgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("purge loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil {
				s.logger.Error("purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SweepOnce transitions every overdue active listing to expired in a single
// statement and drops the whole cache when any row changed. Cached copies of
// the affected listings are unidentifiable from here, so the cache is cleared
// wholesale; it refills on the next reads.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	expired, err := s.listings.ExpireDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep: expire due listings: %w", err)
	}
	if expired == 0 {
		return 0, nil
	}

	if err := s.cache.InvalidateAll(ctx); err != nil {
		// Stale entries self-correct: TTLs bound them and settlement
		// re-validates at the store.
		s.logger.Warn("sweep: cache invalidation failed",
			slog.String("error", err.Error()))
	}

	s.logger.Info("sweep: expired overdue listings",
		slog.Int64("count", expired),
		slog.Time("as_of", now),
	)
	s.notify(ctx, "listing_expired_swept",
		"Listings expired",
		fmt.Sprintf("%d listings passed their deadline and were expired", expired))

	return expired, nil
}

// PurgeOnce archives then deletes resolved listings older than the retention
// window. When archival fails the purge is skipped entirely, so no listing is
// ever deleted without a cold-storage copy.
func (s *Sweeper) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

	if s.archiver != nil {
		archived, err := s.archiver.ArchiveListings(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("purge: archive listings before %v: %w", cutoff, err)
		}
		if archived > 0 {
			s.logger.Info("purge: archived resolved listings",
				slog.Int64("count", archived),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	purged, err := s.listings.PurgeResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: delete resolved listings before %v: %w", cutoff, err)
	}
	if purged > 0 {
		s.logger.Info("purge: deleted resolved listings",
			slog.Int64("count", purged),
			slog.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}

func (s *Sweeper) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("sweep: notification failed",
			slog.String("event", event), slog.String("error", err.Error()))
	}
}
