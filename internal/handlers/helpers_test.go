package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"keygate/internal/billing"
	"keygate/internal/credential"
	"keygate/internal/gate"
	"keygate/internal/pickup"
	"keygate/internal/reconcile"
	"keygate/internal/store"
	"keygate/internal/webhook"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret_key"

type fakeProcessor struct {
	mu          sync.Mutex
	reports     []billing.UsageReport
	itemErr     error
	usageErr    error
	checkoutErr error
}

func (f *fakeProcessor) CreateCheckoutSession(context.Context) (*billing.CheckoutSession, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return &billing.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (f *fakeProcessor) FirstSubscriptionItem(_ context.Context, subscriptionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itemErr != nil {
		return "", f.itemErr
	}
	return "si_" + subscriptionID[len("sub_"):], nil
}

func (f *fakeProcessor) ReportUsage(_ context.Context, report billing.UsageReport) (*billing.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	f.reports = append(f.reports, report)
	return &billing.UsageRecord{
		ID:                 fmt.Sprintf("mev_%d", len(f.reports)),
		CustomerID:         report.CustomerID,
		SubscriptionItemID: report.SubscriptionItemID,
		Quantity:           report.Quantity,
		Timestamp:          time.Now().UTC(),
	}, nil
}

func (f *fakeProcessor) usageReports() []billing.UsageReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]billing.UsageReport(nil), f.reports...)
}

// failingClaimStore fails event claims, for the 500 path
type failingClaimStore struct {
	store.Store
}

func (failingClaimStore) ClaimEvent(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

type testEnv struct {
	app       *fiber.App
	store     store.Store
	processor *fakeProcessor
	pickup    *pickup.Store
}

func newTestEnv(t *testing.T, s store.Store, verifier *webhook.Verifier) *testEnv {
	t.Helper()

	p := &fakeProcessor{}
	pk := pickup.New(time.Minute, time.Minute)
	rec := reconcile.New(s, p, credential.NewGenerator(s, 0), pk)

	webhookHandler := NewWebhookHandler(verifier, s, rec)
	checkoutHandler := NewCheckoutHandler(p, pk)
	usageHandler := NewUsageHandler(gate.New(s, p))
	adminHandler := NewAdminHandler(s)

	app := fiber.New()
	app.Post("/webhook", webhookHandler.HandleWebhook)
	app.Post("/checkout", checkoutHandler.CreateSession)
	app.Get("/success", checkoutHandler.Success)
	app.Get("/error", checkoutHandler.Cancelled)
	app.Get("/api", usageHandler.Call)
	app.Get("/admin/customers/:id", adminHandler.GetAccount)
	app.Get("/admin/customers/:id/usage", adminHandler.ListUsage)
	NewHealthHandler(s, "memory").RegisterRoutes(app)

	return &testEnv{app: app, store: s, processor: p, pickup: pk}
}

func checkoutPayload(eventID, customerID, subscriptionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "checkout.session.completed",
		"created": %d,
		"data": {"object": {"id": "cs_%s", "object": "checkout.session", "customer": %q, "subscription": %q}}
	}`, eventID, time.Now().Unix(), eventID, customerID, subscriptionID))
}

func invoicePayload(eventType, eventID, customerID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": %d,
		"data": {"object": {"id": "in_%s", "object": "invoice", "customer": %q}}
	}`, eventID, eventType, time.Now().Unix(), eventID, customerID))
}

func (e *testEnv) postWebhook(t *testing.T, payload []byte, signature string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(StripeSignatureHeader, signature)
	}
	return e.do(t, req)
}

func (e *testEnv) sendSigned(t *testing.T, payload []byte) (int, map[string]interface{}) {
	t.Helper()
	return e.postWebhook(t, payload, webhook.Sign(payload, testWebhookSecret, time.Now()))
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()

	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), "body: %s", raw)
	}
	return resp.StatusCode, body
}

// issueKey runs a checkout through the webhook and collects the credential
func (e *testEnv) issueKey(t *testing.T, eventID, customerID, subscriptionID string) string {
	t.Helper()

	status, _ := e.sendSigned(t, checkoutPayload(eventID, customerID, subscriptionID))
	require.Equal(t, fiber.StatusOK, status)

	issued, ok := e.pickup.Take("cs_" + eventID)
	require.True(t, ok, "credential not parked for pickup")
	return issued.Credential
}
