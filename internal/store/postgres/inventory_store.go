package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelhart/tradehall/internal/codec"
	"github.com/avelhart/tradehall/internal/domain"
)

// InventoryStore implements domain.Custody using PostgreSQL. Each row is one
// asset held in an account's inventory, stored in its encoded payload form.
type InventoryStore struct {
	pool     *pgxpool.Pool
	capacity int // max assets per account
}

// NewInventoryStore creates an InventoryStore with the given per-account
// capacity.
func NewInventoryStore(pool *pgxpool.Pool, capacity int) *InventoryStore {
	return &InventoryStore{pool: pool, capacity: capacity}
}

// Take removes the identified asset from the account's inventory. It fails
// with ErrNotFound when the account does not hold that asset.
func (s *InventoryStore) Take(ctx context.Context, account string, assetID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM inventory WHERE account_id = $1 AND asset_id = $2`,
		account, assetID)
	if err != nil {
		return fmt.Errorf("postgres: take asset %s from %s: %w", assetID, account, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Give places the asset into the account's inventory.
func (s *InventoryStore) Give(ctx context.Context, account string, asset domain.Asset) error {
	payload, err := codec.Encode(asset)
	if err != nil {
		return fmt.Errorf("postgres: give asset %s to %s: %w", asset.ID, account, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO inventory (account_id, asset_id, payload) VALUES ($1, $2, $3)`,
		account, asset.ID, payload)
	if err != nil {
		return fmt.Errorf("postgres: give asset %s to %s: %w", asset.ID, account, err)
	}
	return nil
}

// HasCapacity reports whether the account can hold one more asset.
func (s *InventoryStore) HasCapacity(ctx context.Context, account string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory WHERE account_id = $1`, account,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("postgres: inventory count for %s: %w", account, err)
	}
	return count < s.capacity, nil
}

// Compile-time interface check.
var _ domain.Custody = (*InventoryStore)(nil)
