package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keygate/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"

	accountsPrimaryKey        = "accounts_pkey"
	credentialIndexConstraint = "idx_accounts_hashed_credential"
)

const accountColumns = `customer_id, hashed_credential, subscription_item_id, active, created_at, updated_at`

func scanAccount(row pgx.Row) (*store.Account, error) {
	a := &store.Account{}
	err := row.Scan(
		&a.CustomerID, &a.HashedCredential, &a.SubscriptionItemID,
		&a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAccount retrieves the account for a Stripe customer
func (db *DB) GetAccount(ctx context.Context, customerID string) (*store.Account, error) {
	account, err := scanAccount(db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE customer_id = $1
	`, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// CustomerForCredential resolves a hashed credential through the unique index
func (db *DB) CustomerForCredential(ctx context.Context, hashed string) (string, error) {
	var customerID string
	err := db.QueryRow(ctx, `
		SELECT customer_id FROM accounts WHERE hashed_credential = $1
	`, hashed).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to look up credential: %w", err)
	}
	return customerID, nil
}

// CredentialExists reports whether a hashed credential is already issued
func (db *DB) CredentialExists(ctx context.Context, hashed string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE hashed_credential = $1)",
		hashed,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check credential existence: %w", err)
	}
	return exists, nil
}

// CreateAccount inserts an account. The primary key and the unique credential
// index make the insert atomic: concurrent callers for the same customer block
// on the first transaction and then fail with a unique violation.
func (db *DB) CreateAccount(ctx context.Context, account *store.Account) error {
	now := time.Now().UTC()

	_, err := db.pool.Exec(ctx, `
		INSERT INTO accounts (customer_id, hashed_credential, subscription_item_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, account.CustomerID, account.HashedCredential, account.SubscriptionItemID, account.Active, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case accountsPrimaryKey:
				return store.ErrAccountExists
			case credentialIndexConstraint:
				return store.ErrCredentialExists
			}
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// SetActive sets the activation flag. updated_at only moves when the flag changes.
func (db *DB) SetActive(ctx context.Context, customerID string, active bool) (*store.Account, error) {
	account, err := scanAccount(db.QueryRow(ctx, `
		UPDATE accounts
		SET active = $2,
		    updated_at = CASE WHEN active = $2 THEN updated_at ELSE NOW() END
		WHERE customer_id = $1
		RETURNING `+accountColumns,
		customerID, active,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
	return account, nil
}
