package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/avelhart/tradehall/internal/domain"
)

// AccountStore implements domain.Ledger using PostgreSQL. An account that has
// never been credited reads as a zero balance.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Balance returns the account's current balance.
func (s *AccountStore) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE id = $1`, account,
	).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse balance %q: %w", balanceStr, err)
	}
	return balance, nil
}

// Credit adds amount to the account, creating the row if needed, and returns
// the new balance.
func (s *AccountStore) Credit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		INSERT INTO accounts (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		RETURNING balance::text`

	var balanceStr string
	if err := s.pool.QueryRow(ctx, query, account, amount.String()).Scan(&balanceStr); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: credit %s to %s: %w", amount, account, err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse balance %q: %w", balanceStr, err)
	}
	return balance, nil
}

// Debit subtracts amount from the account and returns the new balance. The
// update is conditional on the balance covering the amount, so concurrent
// debits cannot overdraw; a losing debit fails with ErrInsufficientFunds.
func (s *AccountStore) Debit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		UPDATE accounts SET balance = balance - $2
		WHERE id = $1 AND balance >= $2
		RETURNING balance::text`

	var balanceStr string
	err := s.pool.QueryRow(ctx, query, account, amount.String()).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrInsufficientFunds
		}
		return decimal.Zero, fmt.Errorf("postgres: debit %s from %s: %w", amount, account, err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse balance %q: %w", balanceStr, err)
	}
	return balance, nil
}

// Has reports whether the account's balance covers the amount.
func (s *AccountStore) Has(ctx context.Context, account string, amount decimal.Decimal) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1 AND balance >= $2)`,
		account, amount.String(),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: has %s for %s: %w", amount, account, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.Ledger = (*AccountStore)(nil)
