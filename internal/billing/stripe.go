package billing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// DefaultCallTimeout bounds each Stripe API call
const DefaultCallTimeout = 10 * time.Second

// StripeConfig configures the Stripe processor
type StripeConfig struct {
	SecretKey      string
	PriceID        string
	MeterEventName string
	// BaseURL is the public gateway URL used for checkout redirects
	BaseURL string
	Timeout time.Duration

	// APIURL and HTTPClient override the Stripe endpoint; tests point them at a mock
	APIURL     string
	HTTPClient *http.Client
}

// StripeProcessor implements Processor on the stripe-go client
type StripeProcessor struct {
	sc      *client.API
	cfg     StripeConfig
	timeout time.Duration
}

var _ Processor = (*StripeProcessor)(nil)

// NewStripeProcessor creates a processor with its own Stripe client, so the
// package-level stripe.Key is never touched
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &StripeProcessor{sc: sc, cfg: cfg, timeout: timeout}
}

// CreateCheckoutSession starts a subscription checkout for the configured price
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: []*string{stripe.String("card")},
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.cfg.PriceID)},
		},
		SuccessURL: stripe.String(p.cfg.BaseURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.cfg.BaseURL + "/error"),
	}
	params.Context = ctx

	sess, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session failed: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// FirstSubscriptionItem returns the ID of the first item on a subscription
func (p *StripeProcessor) FirstSubscriptionItem(ctx context.Context, subscriptionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("stripe subscription lookup failed: %w", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSubscriptionItems, subscriptionID)
	}
	return sub.Items.Data[0].ID, nil
}

// ReportUsage records usage as a billing meter event. Meter events are summed
// by Stripe, which gives increment semantics. Stripe drops events that reuse
// an identifier, so each call gets a fresh one.
func (p *StripeProcessor) ReportUsage(ctx context.Context, report UsageReport) (*UsageRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	quantity := report.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	now := time.Now().UTC()

	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(p.cfg.MeterEventName),
		Identifier: stripe.String(uuid.NewString()),
		Payload: map[string]string{
			"stripe_customer_id": report.CustomerID,
			"value":              strconv.FormatInt(quantity, 10),
		},
		Timestamp: stripe.Int64(now.Unix()),
	}
	params.Context = ctx

	event, err := p.sc.BillingMeterEvents.New(params)
	if err != nil {
		slog.Error("failed to report usage to Stripe meter",
			"customer_id", report.CustomerID,
			"subscription_item_id", report.SubscriptionItemID,
			"error", err,
		)
		return nil, fmt.Errorf("stripe meter event failed: %w", err)
	}

	return &UsageRecord{
		ID:                 event.Identifier,
		CustomerID:         report.CustomerID,
		SubscriptionItemID: report.SubscriptionItemID,
		Quantity:           quantity,
		Timestamp:          now,
	}, nil
}
