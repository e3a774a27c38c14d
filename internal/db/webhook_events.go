package db

import (
	"context"
	"fmt"
)

// ClaimEvent records an event ID before its side effects run. Only the first
// caller gets true; INSERT ON CONFLICT DO NOTHING picks exactly one winner
// among concurrent deliveries.
func (db *DB) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := db.pool.Exec(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UnclaimEvent releases a claim so a Stripe retry can reprocess the event
func (db *DB) UnclaimEvent(ctx context.Context, eventID string) error {
	_, err := db.pool.Exec(ctx, `
		DELETE FROM processed_webhook_events WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to unclaim webhook event: %w", err)
	}
	return nil
}

// CleanupOldEvents removes claims older than the retention window. Stripe
// stops retrying after three days so anything past that is safe to drop.
func (db *DB) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	result, err := db.pool.Exec(ctx, `
		DELETE FROM processed_webhook_events
		WHERE processed_at < NOW() - make_interval(days => $1)
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old webhook events: %w", err)
	}
	return result.RowsAffected(), nil
}
