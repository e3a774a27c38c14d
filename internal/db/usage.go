package db

import (
	"context"
	"fmt"

	"keygate/internal/store"

	"github.com/jackc/pgx/v5"
)

// RecordUsage appends a metered call to the local audit trail
func (db *DB) RecordUsage(ctx context.Context, rec *store.UsageRecord) error {
	store.PrepareUsage(rec)

	_, err := db.pool.Exec(ctx, `
		INSERT INTO usage_records (id, customer_id, subscription_item_id, quantity, meter_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.CustomerID, rec.SubscriptionItemID, rec.Quantity, rec.MeterEventID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ListUsage returns the most recent usage records for a customer, newest first
func (db *DB) ListUsage(ctx context.Context, customerID string, limit int) ([]store.UsageRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, customer_id, subscription_item_id, quantity, meter_event_id, created_at
		FROM usage_records
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, customerID, store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.UsageRecord, error) {
		var r store.UsageRecord
		err := row.Scan(&r.ID, &r.CustomerID, &r.SubscriptionItemID, &r.Quantity, &r.MeterEventID, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage: %w", err)
	}
	return records, nil
}
