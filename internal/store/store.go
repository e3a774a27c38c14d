// Package store defines the account and credential-index persistence contract
// shared by the memory, postgres and redis backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAccountNotFound is returned when no account exists for a customer
	ErrAccountNotFound = errors.New("account not found")
	// ErrCredentialNotFound is returned when a hashed credential is not indexed
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrAccountExists is returned by CreateAccount when the customer already has an account
	ErrAccountExists = errors.New("account already exists")
	// ErrCredentialExists is returned by CreateAccount when the hashed credential is already indexed
	ErrCredentialExists = errors.New("credential already indexed")
)

// Account is the billing state of one Stripe customer
type Account struct {
	CustomerID         string    `json:"customer_id"`
	HashedCredential   string    `json:"hashed_credential"`
	SubscriptionItemID string    `json:"subscription_item_id"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UsageRecord is the local audit row for one metered call
type UsageRecord struct {
	ID                 uuid.UUID `json:"id"`
	CustomerID         string    `json:"customer_id"`
	SubscriptionItemID string    `json:"subscription_item_id"`
	Quantity           int64     `json:"quantity"`
	MeterEventID       string    `json:"meter_event_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// Store is implemented by every backend. Implementations must be safe for
// concurrent use.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	GetAccount(ctx context.Context, customerID string) (*Account, error)
	CustomerForCredential(ctx context.Context, hashed string) (string, error)
	CredentialExists(ctx context.Context, hashed string) (bool, error)

	// CreateAccount inserts the account and its credential index entry
	// together, or neither.
	CreateAccount(ctx context.Context, account *Account) error
	SetActive(ctx context.Context, customerID string, active bool) (*Account, error)

	// ClaimEvent records a webhook event ID. Exactly one concurrent caller
	// gets true.
	ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error)
	UnclaimEvent(ctx context.Context, eventID string) error

	RecordUsage(ctx context.Context, record *UsageRecord) error
	ListUsage(ctx context.Context, customerID string, limit int) ([]UsageRecord, error)
}

// DefaultUsageLimit and MaxUsageLimit clamp ListUsage page sizes
const (
	DefaultUsageLimit = 50
	MaxUsageLimit     = 1000
)

// ClampLimit normalizes a requested page size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultUsageLimit
	}
	if limit > MaxUsageLimit {
		return MaxUsageLimit
	}
	return limit
}

// PrepareUsage fills server-assigned fields of a usage record
func PrepareUsage(record *UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Quantity == 0 {
		record.Quantity = 1
	}
}
