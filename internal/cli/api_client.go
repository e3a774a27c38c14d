// Package cli implements the keygatectl operator commands
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"keygate/internal/billing"
	"keygate/internal/store"
)

// APIClient handles communication with the keygate API
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	adminToken string
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = DefaultAPITimeout
	}
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithAdminToken returns a copy of the client that sends token on admin calls
func (c *APIClient) WithAdminToken(token string) *APIClient {
	clone := *c
	clone.adminToken = token
	return &clone
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// UsageListResponse is the admin usage listing
type UsageListResponse struct {
	CustomerID string              `json:"customer_id"`
	Count      int                 `json:"count"`
	Records    []store.UsageRecord `json:"records"`
}

// CallResponse is the metered API's reply
type CallResponse struct {
	Status string               `json:"status"`
	Usage  *billing.UsageRecord `json:"usage"`
}

// WebhookResponse is the webhook endpoint's acknowledgement
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// HealthResponse mirrors the /health payload
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// doRequest performs an HTTP request with JSON marshaling/unmarshaling
func (c *APIClient) doRequest(ctx context.Context, method, endpoint string, expectedStatus int, headers map[string]string, reqBody interface{}, respBody interface{}) error {
	var body io.Reader
	switch b := reqBody.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		var errResp ErrorResponse
		if json.Unmarshal(respData, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("API error (%d %s %s): %s",
				resp.StatusCode, method, endpoint, errResp.Error)
		}
		bodyPreview := string(respData)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		return fmt.Errorf("unexpected status %d from %s %s: %s",
			resp.StatusCode, method, endpoint, bodyPreview)
	}

	if respBody != nil {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *APIClient) adminHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.adminToken}
}

// GetAccount fetches a customer's account through the admin API
func (c *APIClient) GetAccount(ctx context.Context, customerID string) (*store.Account, error) {
	var result store.Account
	endpoint := "/admin/customers/" + url.PathEscape(customerID)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, http.StatusOK, c.adminHeaders(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListUsage fetches the local usage audit trail for a customer
func (c *APIClient) ListUsage(ctx context.Context, customerID string, limit int) (*UsageListResponse, error) {
	endpoint := "/admin/customers/" + url.PathEscape(customerID) + "/usage"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	var result UsageListResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, http.StatusOK, c.adminHeaders(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateCheckout starts a Stripe Checkout session
func (c *APIClient) CreateCheckout(ctx context.Context) (*billing.CheckoutSession, error) {
	var result billing.CheckoutSession
	if err := c.doRequest(ctx, http.MethodPost, "/checkout", http.StatusOK, nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Call makes one metered API call with the given API key
func (c *APIClient) Call(ctx context.Context, apiKey string) (*CallResponse, error) {
	var result CallResponse
	headers := map[string]string{"X-API-Key": apiKey}
	if err := c.doRequest(ctx, http.MethodGet, "/api", http.StatusOK, headers, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendWebhook posts a raw event payload with its Stripe-Signature header
func (c *APIClient) SendWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResponse, error) {
	var headers map[string]string
	if signature != "" {
		headers = map[string]string{"Stripe-Signature": signature}
	}

	var result WebhookResponse
	if err := c.doRequest(ctx, http.MethodPost, "/webhook", http.StatusOK, headers, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
