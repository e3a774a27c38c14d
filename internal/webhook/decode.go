package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// Event types the reconciler handles
const (
	TypeCheckoutCompleted    = "checkout.session.completed"
	TypeInvoicePaid          = "invoice.paid"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
)

// ErrMalformedPayload marks a known event whose payload is missing required
// fields. Retrying the delivery cannot fix it.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// DecodeError describes which field of a payload could not be decoded
type DecodeError struct {
	Type  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	msg := "malformed webhook payload"
	if e.Type != "" {
		msg += " for " + e.Type
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedPayload, e.Err}
	}
	return []error{ErrMalformedPayload}
}

// CheckoutCompleted is the part of a checkout.session.completed payload the
// gateway needs
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	PaymentStatus  string
}

// Invoice is the part of an invoice.* payload the gateway needs
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}

// DecodeCheckoutCompleted decodes a checkout session. The session ID, customer
// and subscription must all be present; the session ID is where the issued
// credential is parked for pickup.
func DecodeCheckoutCompleted(ev *Event) (*CheckoutCompleted, error) {
	var sess stripe.CheckoutSession
	if err := unmarshalData(ev, &sess); err != nil {
		return nil, err
	}

	out := &CheckoutCompleted{
		SessionID:     sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}

	switch {
	case out.SessionID == "":
		return nil, &DecodeError{Type: ev.Type, Field: "id"}
	case out.CustomerID == "":
		return nil, &DecodeError{Type: ev.Type, Field: "customer"}
	case out.SubscriptionID == "":
		return nil, &DecodeError{Type: ev.Type, Field: "subscription"}
	}
	return out, nil
}

// DecodeInvoice decodes an invoice. The customer must be present.
func DecodeInvoice(ev *Event) (*Invoice, error) {
	var inv stripe.Invoice
	if err := unmarshalData(ev, &inv); err != nil {
		return nil, err
	}

	out := &Invoice{ID: inv.ID}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}

	if out.CustomerID == "" {
		return nil, &DecodeError{Type: ev.Type, Field: "customer"}
	}
	return out, nil
}

func unmarshalData(ev *Event, v any) error {
	if len(ev.Data) == 0 {
		return &DecodeError{Type: ev.Type, Field: "data.object"}
	}
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return &DecodeError{Type: ev.Type, Field: "data.object", Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
