// Package gate authorizes API calls by credential and meters them.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"keygate/internal/billing"
	"keygate/internal/credential"
	"keygate/internal/store"
)

var (
	// ErrMissingCredential is returned when no credential was presented
	ErrMissingCredential = errors.New("missing credential")
	// ErrUnauthorized covers unknown credentials and inactive accounts alike
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUsageReportFailed means the caller was authorized but Stripe did not
	// accept the usage report
	ErrUsageReportFailed = errors.New("usage report failed")
)

// Gate validates credentials against the store and reports usage
type Gate struct {
	store     store.Store
	processor billing.Processor
}

// New creates a gate
func New(s store.Store, processor billing.Processor) *Gate {
	return &Gate{store: s, processor: processor}
}

// Authorize resolves a raw credential to an active account
func (g *Gate) Authorize(ctx context.Context, raw string) (*store.Account, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingCredential
	}

	customerID, err := g.store.CustomerForCredential(ctx, credential.Hash(raw))
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	account, err := g.store.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if !account.Active {
		return nil, ErrUnauthorized
	}
	return account, nil
}

// Meter authorizes the call and reports one unit of usage against the
// account's subscription item
func (g *Gate) Meter(ctx context.Context, raw string) (*billing.UsageRecord, error) {
	account, err := g.Authorize(ctx, raw)
	if err != nil {
		return nil, err
	}

	rec, err := g.processor.ReportUsage(ctx, billing.UsageReport{
		CustomerID:         account.CustomerID,
		SubscriptionItemID: account.SubscriptionItemID,
		Quantity:           1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsageReportFailed, err)
	}

	// Stripe already counted this call. Failing here would make the client
	// retry and bill twice, so the audit row is best effort.
	audit := &store.UsageRecord{
		CustomerID:         account.CustomerID,
		SubscriptionItemID: account.SubscriptionItemID,
		Quantity:           rec.Quantity,
		MeterEventID:       rec.ID,
		CreatedAt:          rec.Timestamp,
	}
	if err := g.store.RecordUsage(ctx, audit); err != nil {
		slog.Error("failed to record usage locally",
			"customer_id", account.CustomerID,
			"meter_event_id", rec.ID,
			"error", err,
		)
	}
	return rec, nil
}
