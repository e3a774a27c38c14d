package testutil

import (
	"fmt"
	"time"

	"keygate/internal/credential"
	"keygate/internal/store"
)

// RandomCustomerID generates a unique Stripe-style customer ID for testing
func RandomCustomerID() string {
	return fmt.Sprintf("cus_test%x", time.Now().UnixNano())
}

// RandomEventID generates a unique Stripe-style event ID for testing
func RandomEventID() string {
	return fmt.Sprintf("evt_test%x", time.Now().UnixNano())
}

// NewAccount returns an active account fixture with a unique credential hash
func NewAccount(customerID string) *store.Account {
	return &store.Account{
		CustomerID:         customerID,
		HashedCredential:   credential.Hash(fmt.Sprintf("%s%s-%d", credential.KeyPrefix, customerID, time.Now().UnixNano())),
		SubscriptionItemID: "si_" + customerID,
		Active:             true,
	}
}
