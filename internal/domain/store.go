package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ListingStore persists listings. Any I/O failure is wrapped and surfaced to
// the caller; no operation retries, and no operation partially writes a row.
type ListingStore interface {
	// Insert persists the listing as active and returns the assigned id.
	Insert(ctx context.Context, l Listing) (int64, error)
	GetByID(ctx context.Context, id int64) (Listing, error)

	// ListByStatus returns listings ordered by ends_at: ascending for active
	// listings (soonest to expire first), descending otherwise.
	ListByStatus(ctx context.Context, status ListingStatus, opts ListOpts) ([]Listing, error)
	ListByCategory(ctx context.Context, status ListingStatus, category string, opts ListOpts) ([]Listing, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Listing, error)
	// ListByBuyer returns the listings the account has bought (status sold).
	ListByBuyer(ctx context.Context, buyerID string) ([]Listing, error)
	CountActiveBySeller(ctx context.Context, sellerID string) (int, error)

	// TransitionStatus is the sole status mutation primitive: a single
	// conditional update that applies only when the stored status equals
	// expected at write time. It returns false, with no error and no change,
	// when another transition won the race. buyerID is written only when
	// non-nil (the sold transition).
	TransitionStatus(ctx context.Context, id int64, expected, next ListingStatus, buyerID *string) (bool, error)

	// ExpireDue atomically transitions every active listing whose deadline has
	// passed to expired and returns the number of rows changed.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// ListResolvedBefore returns sold/cancelled listings that resolved before
	// the cutoff, for archival ahead of a purge.
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]Listing, error)
	// PurgeResolvedBefore irreversibly deletes sold/cancelled listings older
	// than the cutoff and returns the number of rows deleted.
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ListingCache is a read-through accelerator over the ListingStore. It offers
// no durability or ordering guarantees and may be dropped wholesale at any
// time; correctness never depends on its contents, because every settlement
// path re-validates status via TransitionStatus before moving money or assets.
type ListingCache interface {
	// Get returns ErrNotFound when the id is absent from the cache.
	Get(ctx context.Context, id int64) (Listing, error)
	Put(ctx context.Context, l Listing) error
	Invalidate(ctx context.Context, id int64) error
	InvalidateAll(ctx context.Context) error
}

// Ledger is the external balance ledger. It is assumed synchronous and
// immediately consistent.
type Ledger interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	// Credit adds amount to the account, creating it if needed, and returns
	// the new balance.
	Credit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	// Debit subtracts amount and returns the new balance. It fails with
	// ErrInsufficientFunds when the balance does not cover the amount.
	Debit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	Has(ctx context.Context, account string, amount decimal.Decimal) (bool, error)
}

// Custody holds physical assets on behalf of accounts.
type Custody interface {
	// Take removes the identified asset from the account's holding space. It
	// fails with ErrNotFound when the account does not hold that asset.
	Take(ctx context.Context, account string, assetID uuid.UUID) error
	Give(ctx context.Context, account string, asset Asset) error
	HasCapacity(ctx context.Context, account string) (bool, error)
}

// RateLimiter provides request rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
