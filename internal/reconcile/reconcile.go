// Package reconcile applies verified Stripe events to the account store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"keygate/internal/billing"
	"keygate/internal/credential"
	"keygate/internal/pickup"
	"keygate/internal/store"
	"keygate/internal/webhook"

	"golang.org/x/sync/singleflight"
)

// Outcome describes what applying an event did
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeActivated   Outcome = "activated"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeIgnored     Outcome = "ignored"
	// OutcomeMalformed marks a signed event whose payload could not be used.
	// Apply reports it as an error; callers acknowledge it with this outcome.
	OutcomeMalformed Outcome = "malformed"
)

// Delivery receives a raw credential right after its account is stored. It is
// the only place the raw value ever leaves the reconciler.
type Delivery interface {
	Deliver(ctx context.Context, issued pickup.Issued) error
}

// Reconciler is the event state machine
type Reconciler struct {
	store     store.Store
	processor billing.Processor
	generator *credential.Generator
	delivery  Delivery

	// inflight collapses concurrent checkouts for one customer within this process
	inflight singleflight.Group
}

// New creates a reconciler
func New(s store.Store, processor billing.Processor, generator *credential.Generator, delivery Delivery) *Reconciler {
	return &Reconciler{
		store:     s,
		processor: processor,
		generator: generator,
		delivery:  delivery,
	}
}

// Apply routes an event by type. Errors wrapping webhook.ErrMalformedPayload
// are permanent; any other error is transient and the delivery should be
// retried.
func (r *Reconciler) Apply(ctx context.Context, ev *webhook.Event) (Outcome, error) {
	switch ev.Type {
	case webhook.TypeCheckoutCompleted:
		return r.checkoutCompleted(ctx, ev)
	case webhook.TypeInvoicePaid:
		return r.setActive(ctx, ev, true)
	case webhook.TypeInvoicePaymentFailed:
		return r.setActive(ctx, ev, false)
	default:
		slog.Debug("ignoring stripe event", "type", ev.Type, "event_id", ev.ID)
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev *webhook.Event) (Outcome, error) {
	cc, err := webhook.DecodeCheckoutCompleted(ev)
	if err != nil {
		return "", err
	}

	// Callers that joined another caller's flight issued nothing themselves
	ran := false
	v, err, _ := r.inflight.Do(cc.CustomerID, func() (interface{}, error) {
		ran = true
		return r.issue(ctx, cc)
	})
	if err != nil {
		return "", err
	}
	if outcome := v.(Outcome); ran || outcome != OutcomeCreated {
		return outcome, nil
	}
	slog.Info("checkout joined an in-flight issuance", "customer_id", cc.CustomerID, "event_id", ev.ID)
	return OutcomeDuplicate, nil
}

// issue creates the account unless one exists. The existence check skips the
// Stripe call on redelivery; the store's insert-if-absent settles races with
// other processes.
func (r *Reconciler) issue(ctx context.Context, cc *webhook.CheckoutCompleted) (Outcome, error) {
	_, err := r.store.GetAccount(ctx, cc.CustomerID)
	if err == nil {
		slog.Info("account already exists, skipping credential issuance", "customer_id", cc.CustomerID)
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	itemID, err := r.processor.FirstSubscriptionItem(ctx, cc.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve subscription item: %w", err)
	}

	for attempt := 0; attempt < r.generator.MaxAttempts(); attempt++ {
		raw, hashed, err := r.generator.Generate(ctx)
		if err != nil {
			return "", err
		}

		err = r.store.CreateAccount(ctx, &store.Account{
			CustomerID:         cc.CustomerID,
			HashedCredential:   hashed,
			SubscriptionItemID: itemID,
			Active:             true,
		})
		switch {
		case err == nil:
			slog.Info("account created",
				"customer_id", cc.CustomerID,
				"subscription_item_id", itemID,
				"key_prefix", credential.Prefix(raw),
			)
			r.deliver(ctx, cc, raw)
			return OutcomeCreated, nil
		case errors.Is(err, store.ErrAccountExists):
			slog.Info("account created concurrently, discarding credential", "customer_id", cc.CustomerID)
			return OutcomeDuplicate, nil
		case errors.Is(err, store.ErrCredentialExists):
			slog.Warn("credential collision at insert, regenerating", "customer_id", cc.CustomerID, "attempt", attempt+1)
			continue
		default:
			return "", fmt.Errorf("failed to create account: %w", err)
		}
	}

	slog.Error("credential generation exhausted", "customer_id", cc.CustomerID)
	return "", credential.ErrGenerationExhausted
}

func (r *Reconciler) deliver(ctx context.Context, cc *webhook.CheckoutCompleted, raw string) {
	if r.delivery == nil {
		return
	}
	err := r.delivery.Deliver(ctx, pickup.Issued{
		SessionID:  cc.SessionID,
		CustomerID: cc.CustomerID,
		Credential: raw,
	})
	if err != nil {
		slog.Error("failed to deliver credential",
			"customer_id", cc.CustomerID,
			"session_id", cc.SessionID,
			"error", err,
		)
	}
}

func (r *Reconciler) setActive(ctx context.Context, ev *webhook.Event, active bool) (Outcome, error) {
	inv, err := webhook.DecodeInvoice(ev)
	if err != nil {
		return "", err
	}

	account, err := r.store.SetActive(ctx, inv.CustomerID, active)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			slog.Warn("invoice event for unknown customer",
				"type", ev.Type,
				"customer_id", inv.CustomerID,
				"invoice_id", inv.ID,
			)
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("failed to update account: %w", err)
	}

	slog.Info("account status updated",
		"customer_id", account.CustomerID,
		"active", account.Active,
		"invoice_id", inv.ID,
	)
	if active {
		return OutcomeActivated, nil
	}
	return OutcomeDeactivated, nil
}
