// Package domain defines the marketplace entities, error taxonomy, and the
// store/cache/collaborator interfaces implemented by the infrastructure
// packages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus represents the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusExpired   ListingStatus = "expired"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Valid reports whether s is one of the known listing statuses.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusActive, ListingStatusSold, ListingStatusExpired, ListingStatusCancelled:
		return true
	}
	return false
}

// Resolved reports whether the listing requires no further action from any
// party. Expired is deliberately excluded: an expired listing still holds an
// asset that the seller must claim back.
func (s ListingStatus) Resolved() bool {
	return s == ListingStatusSold || s == ListingStatusCancelled
}

// CanTransitionTo reports whether the status machine permits moving from s to
// next. Transitions are one-way: active may resolve or expire, and expired may
// be claimed (relabelled cancelled). Nothing leaves sold or cancelled.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	switch s {
	case ListingStatusActive:
		return next == ListingStatusSold || next == ListingStatusExpired || next == ListingStatusCancelled
	case ListingStatusExpired:
		return next == ListingStatusCancelled
	}
	return false
}

// Listing is a single marketplace entry: one encoded asset offered at a fixed
// price until a deadline. All fields except Status and BuyerID are immutable
// after creation.
type Listing struct {
	ID        int64
	SellerID  string
	BuyerID   *string // set exactly once, when the listing sells
	Payload   []byte  // encoded asset, opaque to the store
	Price     decimal.Decimal
	CreatedAt time.Time
	EndsAt    time.Time
	Status    ListingStatus
	Category  string // empty when uncategorized
}
