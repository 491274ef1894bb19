// Package service implements the settlement engine: the create / purchase /
// cancel / claim operations over listings, coordinating the listing store,
// the balance ledger, and asset custody.
//
// Every mutating operation follows the same shape: validate, attempt a single
// conditional status transition at the store, perform side effects only if
// the transition succeeded, invalidate the cache. The conditional transition
// is the sole serialization point, which is what prevents double-spends and
// duplicate asset delivery under concurrent callers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avelhart/tradehall/internal/codec"
	"github.com/avelhart/tradehall/internal/domain"
)

// Notification event types emitted by the engine.
const (
	EventListingCreated = "listing_created"
	EventListingSold    = "listing_sold"
)

// Limits holds the configured business-rule bounds for listings.
type Limits struct {
	MinPrice           decimal.Decimal
	MaxPrice           decimal.Decimal
	MinDuration        time.Duration
	MaxDuration        time.Duration
	MaxActivePerSeller int
	FeePercent         decimal.Decimal
	MinFee             decimal.Decimal
	MaxFee             decimal.Decimal
}

// ListingFee computes the creation fee for a price:
// clamp(price * percent / 100, min, max).
func ListingFee(price, percent, min, max decimal.Decimal) decimal.Decimal {
	fee := price.Mul(percent).Div(decimal.NewFromInt(100))
	if fee.LessThan(min) {
		return min
	}
	if fee.GreaterThan(max) {
		return max
	}
	return fee
}

// Notifier delivers marketplace event notifications. Delivery failures never
// fail the settlement operation that triggered them.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketService is the settlement engine. All dependencies are injected; the
// service holds no global state.
type MarketService struct {
	listings   domain.ListingStore
	cache      domain.ListingCache
	ledger     domain.Ledger
	custody    domain.Custody
	categories *domain.CategoryRegistry
	limits     Limits
	notifier   Notifier // optional
	logger     *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	listings domain.ListingStore,
	cache domain.ListingCache,
	ledger domain.Ledger,
	custody domain.Custody,
	categories *domain.CategoryRegistry,
	limits Limits,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		listings:   listings,
		cache:      cache,
		ledger:     ledger,
		custody:    custody,
		categories: categories,
		limits:     limits,
		logger:     logger,
	}
}

// WithNotifier attaches an event notifier. Without one, the engine works
// silently.
func (s *MarketService) WithNotifier(n Notifier) *MarketService {
	s.notifier = n
	return s
}

// Create validates and persists a new active listing, removes the asset from
// the seller's custody, and charges the listing fee. On any validation or
// persistence failure nothing moves.
func (s *MarketService) Create(ctx context.Context, sellerID string, asset domain.Asset, price decimal.Decimal, duration time.Duration, category string) (domain.Listing, error) {
	if asset.Empty() {
		return domain.Listing{}, &domain.ValidationError{Field: "asset", Reason: "must not be empty"}
	}
	if price.LessThan(s.limits.MinPrice) {
		return domain.Listing{}, &domain.ValidationError{
			Field: "price", Reason: fmt.Sprintf("below minimum %s", s.limits.MinPrice)}
	}
	if price.GreaterThan(s.limits.MaxPrice) {
		return domain.Listing{}, &domain.ValidationError{
			Field: "price", Reason: fmt.Sprintf("above maximum %s", s.limits.MaxPrice)}
	}
	if duration < s.limits.MinDuration || duration > s.limits.MaxDuration {
		return domain.Listing{}, &domain.ValidationError{
			Field: "duration", Reason: fmt.Sprintf("must be between %s and %s",
				s.limits.MinDuration, s.limits.MaxDuration)}
	}
	if category != "" && !s.categories.Known(category) {
		return domain.Listing{}, &domain.ValidationError{
			Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}

	active, err := s.listings.CountActiveBySeller(ctx, sellerID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}
	if active >= s.limits.MaxActivePerSeller {
		return domain.Listing{}, &domain.ValidationError{
			Field: "seller", Reason: fmt.Sprintf("active listing limit %d reached", s.limits.MaxActivePerSeller)}
	}

	payload, err := codec.Encode(asset)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}

	now := time.Now().UTC()
	l := domain.Listing{
		SellerID:  sellerID,
		Payload:   payload,
		Price:     price,
		CreatedAt: now,
		EndsAt:    now.Add(duration),
		Status:    domain.ListingStatusActive,
		Category:  category,
	}

	l.ID, err = s.listings.Insert(ctx, l)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: create listing: %w", err)
	}

	// The row exists; now take the asset out of the seller's custody. If the
	// seller does not actually hold the asset, undo the listing so nothing
	// dangles.
	if err := s.custody.Take(ctx, sellerID, asset.ID); err != nil {
		if _, undoErr := s.listings.TransitionStatus(ctx, l.ID,
			domain.ListingStatusActive, domain.ListingStatusCancelled, nil); undoErr != nil {
			s.logger.ErrorContext(ctx, "market: could not cancel listing after custody failure",
				slog.Int64("listing_id", l.ID),
				slog.String("error", undoErr.Error()),
			)
		}
		return domain.Listing{}, fmt.Errorf("market: create listing %d: take asset: %w", l.ID, err)
	}

	// Fee is charged only after the row is durably created. If the debit
	// fails the listing stands and the fee is lost: an accepted inconsistency
	// window, traded against a two-phase commit across the ledger. A
	// reconciliation job can compare listings against ledger entries if
	// exactness is ever required.
	fee := ListingFee(price, s.limits.FeePercent, s.limits.MinFee, s.limits.MaxFee)
	if _, err := s.ledger.Debit(ctx, sellerID, fee); err != nil {
		s.logger.ErrorContext(ctx, "market: listing fee charge failed, listing kept",
			slog.Int64("listing_id", l.ID),
			slog.String("seller_id", sellerID),
			slog.String("fee", fee.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.cache.Put(ctx, l); err != nil {
		s.logger.DebugContext(ctx, "market: cache put failed",
			slog.Int64("listing_id", l.ID), slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "market: listing created",
		slog.Int64("listing_id", l.ID),
		slog.String("seller_id", sellerID),
		slog.String("price", price.String()),
		slog.String("category", category),
	)
	s.notify(ctx, EventListingCreated, "Listing created",
		fmt.Sprintf("listing %d: %s for %s", l.ID, asset.Name, price))

	return l, nil
}

// Purchase settles a listing for the buyer: exactly one buyer can ever win,
// because money and the asset move only after the conditional active-to-sold
// transition succeeds.
func (s *MarketService) Purchase(ctx context.Context, listingID int64, buyerID string) (domain.Listing, error) {
	l, err := s.Listing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status != domain.ListingStatusActive {
		return domain.Listing{}, domain.ErrConflict
	}
	if buyerID == l.SellerID {
		return domain.Listing{}, &domain.ValidationError{Field: "buyer", Reason: "cannot purchase own listing"}
	}

	has, err := s.ledger.Has(ctx, buyerID, l.Price)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: %w", listingID, err)
	}
	if !has {
		return domain.Listing{}, domain.ErrInsufficientFunds
	}

	capacity, err := s.custody.HasCapacity(ctx, buyerID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: %w", listingID, err)
	}
	if !capacity {
		return domain.Listing{}, domain.ErrNoCapacity
	}

	// The cached Active status above is advisory only; this conditional
	// transition is what decides the sale.
	won, err := s.listings.TransitionStatus(ctx, l.ID,
		domain.ListingStatusActive, domain.ListingStatusSold, &buyerID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: %w", listingID, err)
	}
	if !won {
		// Expected under concurrent load: another purchase, a cancel, or the
		// sweeper got there first.
		return domain.Listing{}, domain.ErrConflict
	}
	s.invalidate(ctx, l.ID)

	if _, err := s.ledger.Debit(ctx, buyerID, l.Price); err != nil {
		s.logger.ErrorContext(ctx, "market: buyer debit failed after sale transition",
			slog.Int64("listing_id", l.ID),
			slog.String("buyer_id", buyerID),
			slog.String("error", err.Error()),
		)
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: debit buyer: %w", listingID, err)
	}
	if _, err := s.ledger.Credit(ctx, l.SellerID, l.Price); err != nil {
		s.logger.ErrorContext(ctx, "market: seller credit failed after sale",
			slog.Int64("listing_id", l.ID),
			slog.String("seller_id", l.SellerID),
			slog.String("error", err.Error()),
		)
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: credit seller: %w", listingID, err)
	}

	asset, err := codec.Decode(l.Payload)
	if err != nil {
		// Corrupt payload is terminal for the row, not transient.
		s.logger.ErrorContext(ctx, "market: sold listing has corrupt payload",
			slog.Int64("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: %w", listingID, err)
	}
	if err := s.custody.Give(ctx, buyerID, asset); err != nil {
		return domain.Listing{}, fmt.Errorf("market: purchase listing %d: deliver asset: %w", listingID, err)
	}

	l.Status = domain.ListingStatusSold
	l.BuyerID = &buyerID

	s.logger.InfoContext(ctx, "market: listing sold",
		slog.Int64("listing_id", l.ID),
		slog.String("seller_id", l.SellerID),
		slog.String("buyer_id", buyerID),
		slog.String("price", l.Price.String()),
	)
	s.notify(ctx, EventListingSold, "Listing sold",
		fmt.Sprintf("listing %d sold to %s for %s", l.ID, buyerID, l.Price))

	return l, nil
}

// Cancel withdraws an active listing. Only the seller may cancel; the asset
// returns to the seller's custody.
func (s *MarketService) Cancel(ctx context.Context, listingID int64, requesterID string) error {
	return s.reclaim(ctx, listingID, requesterID, domain.ListingStatusActive)
}

// Claim returns the asset of an expired listing to its seller. The listing is
// relabelled cancelled to mark it fully settled.
func (s *MarketService) Claim(ctx context.Context, listingID int64, requesterID string) error {
	return s.reclaim(ctx, listingID, requesterID, domain.ListingStatusExpired)
}

// reclaim is the shared cancel/claim path: transition from the expected
// status to cancelled, then hand the asset back to the seller.
func (s *MarketService) reclaim(ctx context.Context, listingID int64, requesterID string, expected domain.ListingStatus) error {
	l, err := s.Listing(ctx, listingID)
	if err != nil {
		return err
	}
	if requesterID != l.SellerID {
		return domain.ErrUnauthorized
	}
	if l.Status != expected {
		return domain.ErrConflict
	}

	won, err := s.listings.TransitionStatus(ctx, l.ID, expected, domain.ListingStatusCancelled, nil)
	if err != nil {
		return fmt.Errorf("market: reclaim listing %d: %w", listingID, err)
	}
	if !won {
		return domain.ErrConflict
	}
	s.invalidate(ctx, l.ID)

	asset, err := codec.Decode(l.Payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "market: reclaimed listing has corrupt payload",
			slog.Int64("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("market: reclaim listing %d: %w", listingID, err)
	}
	if err := s.custody.Give(ctx, l.SellerID, asset); err != nil {
		return fmt.Errorf("market: reclaim listing %d: return asset: %w", listingID, err)
	}

	s.logger.InfoContext(ctx, "market: listing reclaimed",
		slog.Int64("listing_id", l.ID),
		slog.String("seller_id", l.SellerID),
		slog.String("was", string(expected)),
	)
	return nil
}

// Listing returns a single listing, reading through the cache.
func (s *MarketService) Listing(ctx context.Context, id int64) (domain.Listing, error) {
	if l, err := s.cache.Get(ctx, id); err == nil {
		return l, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.DebugContext(ctx, "market: cache read failed",
			slog.Int64("listing_id", id), slog.String("error", err.Error()))
	}

	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: get listing %d: %w", id, err)
	}
	if err := s.cache.Put(ctx, l); err != nil {
		s.logger.DebugContext(ctx, "market: cache put failed",
			slog.Int64("listing_id", id), slog.String("error", err.Error()))
	}
	return l, nil
}

// BrowseActive returns active listings, soonest to expire first.
func (s *MarketService) BrowseActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	listings, err := s.listings.ListByStatus(ctx, domain.ListingStatusActive, opts)
	if err != nil {
		return nil, fmt.Errorf("market: browse active: %w", err)
	}
	return listings, nil
}

// BrowseCategory returns active listings in a category.
func (s *MarketService) BrowseCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Listing, error) {
	if !s.categories.Known(category) {
		return nil, &domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	listings, err := s.listings.ListByCategory(ctx, domain.ListingStatusActive, category, opts)
	if err != nil {
		return nil, fmt.Errorf("market: browse category %s: %w", category, err)
	}
	return listings, nil
}

// SellerListings returns all of a seller's listings across statuses.
func (s *MarketService) SellerListings(ctx context.Context, sellerID string) ([]domain.Listing, error) {
	listings, err := s.listings.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("market: seller listings for %s: %w", sellerID, err)
	}
	return listings, nil
}

// BuyerPurchases returns the listings an account has bought.
func (s *MarketService) BuyerPurchases(ctx context.Context, buyerID string) ([]domain.Listing, error) {
	listings, err := s.listings.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("market: buyer purchases for %s: %w", buyerID, err)
	}
	return listings, nil
}

// Categories returns the configured category registry entries.
func (s *MarketService) Categories() []domain.Category {
	return s.categories.All()
}

// Fee returns the listing fee that Create would charge for a price.
func (s *MarketService) Fee(price decimal.Decimal) decimal.Decimal {
	return ListingFee(price, s.limits.FeePercent, s.limits.MinFee, s.limits.MaxFee)
}

// invalidate drops a cache entry, logging (not failing) on cache errors.
func (s *MarketService) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "market: cache invalidate failed",
			slog.Int64("listing_id", id), slog.String("error", err.Error()))
	}
}

// notify delivers an event when a notifier is attached; failures are logged
// and swallowed.
func (s *MarketService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "market: notification failed",
			slog.String("event", event), slog.String("error", err.Error()))
	}
}
