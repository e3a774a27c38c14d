package handlers

import (
	"errors"

	"keygate/internal/middleware"
	"keygate/internal/reconcile"
	"keygate/internal/store"
	"keygate/internal/webhook"

	"github.com/gofiber/fiber/v3"
)

// StripeSignatureHeader carries the webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// WebhookHandler receives Stripe webhook deliveries
type WebhookHandler struct {
	verifier   *webhook.Verifier
	store      store.Store
	reconciler *reconcile.Reconciler
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(verifier *webhook.Verifier, s store.Store, reconciler *reconcile.Reconciler) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		store:      s,
		reconciler: reconciler,
	}
}

// HandleWebhook verifies, claims and applies one event. Stripe retries any
// non-2xx, so only bodies that fail verification get a 4xx; transient
// failures release the claim and return 500.
func (h *WebhookHandler) HandleWebhook(c fiber.Ctx) error {
	log := middleware.Logger(c)

	event, err := h.verifier.Verify(c.Body(), c.Get(StripeSignatureHeader))
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			log.Warn("unsigned webhook body malformed", "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Malformed event",
			})
		}
		log.Warn("stripe webhook signature verification failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	log = log.With("event_id", event.ID, "type", event.Type)
	log.Info("stripe webhook received")

	// Exactly one concurrent delivery of an event ID wins the claim
	claimed, err := h.store.ClaimEvent(c.Context(), event.ID, event.Type)
	if err != nil {
		log.Error("failed to claim webhook event", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal error",
		})
	}
	if !claimed {
		log.Info("duplicate stripe webhook event, skipping")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"received":  true,
			"duplicate": true,
		})
	}

	outcome, err := h.reconciler.Apply(c.Context(), event)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			// Acknowledge and keep the claim: a retry of the same payload
			// cannot succeed
			log.Warn("malformed stripe event payload", "error", err)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"received": true,
				"outcome":  reconcile.OutcomeMalformed,
			})
		}

		log.Error("failed to apply stripe event", "error", err)
		if uerr := h.store.UnclaimEvent(c.Context(), event.ID); uerr != nil {
			log.Error("failed to unclaim webhook event", "error", uerr)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": true,
		"outcome":  outcome,
	})
}
