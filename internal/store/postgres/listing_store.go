package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/avelhart/tradehall/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// listingSelectCols lists the columns selected when reading listings. Price is
// selected as text so it scans losslessly into a decimal.
const listingSelectCols = `id, seller_id, buyer_id, payload, price::text,
	created_at, ends_at, status, category`

func scanListingFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Listing, error) {
	var l domain.Listing
	var priceStr, status string
	var category *string

	err := scanner.Scan(
		&l.ID, &l.SellerID, &l.BuyerID, &l.Payload, &priceStr,
		&l.CreatedAt, &l.EndsAt, &status, &category,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	l.Price = price
	l.Status = domain.ListingStatus(status)
	if category != nil {
		l.Category = *category
	}
	return l, nil
}

func scanListingRows(rows pgx.Rows) ([]domain.Listing, error) {
	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListingFromRow(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// nullableCategory maps the empty category to SQL NULL.
func nullableCategory(category string) *string {
	if category == "" {
		return nil
	}
	return &category
}

// Insert persists the listing as active and returns the store-assigned id.
func (s *ListingStore) Insert(ctx context.Context, l domain.Listing) (int64, error) {
	const query = `
		INSERT INTO listings (seller_id, payload, price, created_at, ends_at, status, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		l.SellerID, l.Payload, l.Price.String(),
		l.CreatedAt, l.EndsAt, string(domain.ListingStatusActive),
		nullableCategory(l.Category),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert listing for seller %s: %w", l.SellerID, err)
	}
	return id, nil
}

// GetByID retrieves a single listing by id.
func (s *ListingStore) GetByID(ctx context.Context, id int64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE id = $1`, id)

	l, err := scanListingFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// statusOrder returns the ends_at sort direction for a status: active listings
// browse soonest-ending first, resolved history shows newest first.
func statusOrder(status domain.ListingStatus) string {
	if status == domain.ListingStatusActive {
		return "ASC"
	}
	return "DESC"
}

// ListByStatus returns listings in the given status, ordered by ends_at.
func (s *ListingStore) ListByStatus(ctx context.Context, status domain.ListingStatus, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings
		WHERE status = $1 ORDER BY ends_at ` + statusOrder(status)
	args := []any{string(status)}
	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by status %s: %w", status, err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan listings by status %s: %w", status, err)
	}
	return listings, nil
}

// ListByCategory returns listings in the given status and category.
func (s *ListingStore) ListByCategory(ctx context.Context, status domain.ListingStatus, category string, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings
		WHERE status = $1 AND category = $2 ORDER BY ends_at ` + statusOrder(status)
	args := []any{string(status), category}
	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by category %s: %w", category, err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan listings by category %s: %w", category, err)
	}
	return listings, nil
}

// ListBySeller returns all of a seller's listings across statuses, grouped by
// status and newest deadline first within each group.
func (s *ListingStore) ListBySeller(ctx context.Context, sellerID string) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE seller_id = $1 ORDER BY status, ends_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by seller %s: %w", sellerID, err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan listings by seller %s: %w", sellerID, err)
	}
	return listings, nil
}

// ListByBuyer returns the listings the account has purchased.
func (s *ListingStore) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE buyer_id = $1 AND status = $2 ORDER BY ends_at DESC`,
		buyerID, string(domain.ListingStatusSold))
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by buyer %s: %w", buyerID, err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan listings by buyer %s: %w", buyerID, err)
	}
	return listings, nil
}

// CountActiveBySeller returns the seller's number of active listings.
func (s *ListingStore) CountActiveBySeller(ctx context.Context, sellerID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE seller_id = $1 AND status = $2`,
		sellerID, string(domain.ListingStatusActive),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active listings for seller %s: %w", sellerID, err)
	}
	return count, nil
}

// TransitionStatus applies a conditional status update: the row changes only
// when its stored status equals expected at write time. Concurrent callers
// racing on the same listing see exactly one winner; the database row lock on
// the UPDATE is the serialization point.
func (s *ListingStore) TransitionStatus(ctx context.Context, id int64, expected, next domain.ListingStatus, buyerID *string) (bool, error) {
	var query string
	args := []any{id, string(expected), string(next)}
	if buyerID != nil {
		query = `UPDATE listings SET status = $3, buyer_id = $4 WHERE id = $1 AND status = $2`
		args = append(args, *buyerID)
	} else {
		query = `UPDATE listings SET status = $3 WHERE id = $1 AND status = $2`
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: transition listing %d %s->%s: %w", id, expected, next, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireDue transitions every active listing whose deadline has passed to
// expired, in a single statement, and returns the number of rows changed.
func (s *ListingStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET status = $1 WHERE status = $2 AND ends_at < $3`,
		string(domain.ListingStatusExpired), string(domain.ListingStatusActive), now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire due listings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListResolvedBefore returns sold/cancelled listings whose deadline passed
// before the cutoff, oldest first, for archival ahead of a purge.
func (s *ListingStore) ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status IN ($1, $2) AND ends_at < $3 ORDER BY ends_at`,
		string(domain.ListingStatusSold), string(domain.ListingStatusCancelled), cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved listings before %s: %w", cutoff, err)
	}
	defer rows.Close()

	listings, err := scanListingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved listings: %w", err)
	}
	return listings, nil
}

// PurgeResolvedBefore irreversibly deletes sold/cancelled listings whose
// deadline passed before the cutoff.
func (s *ListingStore) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM listings WHERE status IN ($1, $2) AND ends_at < $3`,
		string(domain.ListingStatusSold), string(domain.ListingStatusCancelled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge resolved listings before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// appendListOpts appends LIMIT/OFFSET clauses for non-zero opts.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
