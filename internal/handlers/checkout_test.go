package handlers

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_CreateSession(t *testing.T) {
	env := signedEnv(t)

	status, body := env.do(t, httptest.NewRequest("POST", "/checkout", nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, "cs_test_1", body["id"])
	assert.Contains(t, body["url"], "checkout.stripe.com")
}

func TestCheckout_ProcessorFailure(t *testing.T) {
	env := signedEnv(t)
	env.processor.checkoutErr = errors.New("stripe down")

	status, _ := env.do(t, httptest.NewRequest("POST", "/checkout", nil))
	assert.Equal(t, 502, status)
}

func TestSuccess_OneTimePickup(t *testing.T) {
	env := signedEnv(t)

	status, _ := env.sendSigned(t, checkoutPayload("evt_1", "cus_1", "sub_1"))
	require.Equal(t, 200, status)

	status, body := env.do(t, httptest.NewRequest("GET", "/success?session_id=cs_evt_1", nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, "cus_1", body["customer_id"])
	key, _ := body["api_key"].(string)
	assert.NotEmpty(t, key)

	status, _ = env.do(t, httptest.NewRequest("GET", "/success?session_id=cs_evt_1", nil))
	assert.Equal(t, 404, status)

	// The collected key works
	status, _ = callAPI(t, env, key)
	assert.Equal(t, 200, status)
}

func TestSuccess_MissingSession(t *testing.T) {
	env := signedEnv(t)

	status, _ := env.do(t, httptest.NewRequest("GET", "/success", nil))
	assert.Equal(t, 400, status)
}

func TestCancelled(t *testing.T) {
	env := signedEnv(t)

	status, body := env.do(t, httptest.NewRequest("GET", "/error", nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, "cancelled", body["status"])
}
