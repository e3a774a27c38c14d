// Package billing is the gateway's view of Stripe: checkout session creation,
// subscription item lookup and metered usage reporting.
package billing

import (
	"context"
	"errors"
	"time"
)

// ErrNoSubscriptionItems is returned when a subscription has no line items to
// report usage against
var ErrNoSubscriptionItems = errors.New("subscription has no items")

// CheckoutSession is the descriptor returned to the client that started checkout
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UsageReport describes one metered call
type UsageReport struct {
	CustomerID         string
	SubscriptionItemID string
	Quantity           int64
}

// UsageRecord is the processor's acknowledgement of a usage report
type UsageRecord struct {
	ID                 string    `json:"id"`
	CustomerID         string    `json:"customer_id"`
	SubscriptionItemID string    `json:"subscription_item_id"`
	Quantity           int64     `json:"quantity"`
	Timestamp          time.Time `json:"timestamp"`
}

// Processor is the external payment processor. Every call is blocking I/O.
type Processor interface {
	CreateCheckoutSession(ctx context.Context) (*CheckoutSession, error)
	FirstSubscriptionItem(ctx context.Context, subscriptionID string) (string, error)
	ReportUsage(ctx context.Context, report UsageReport) (*UsageRecord, error)
}
