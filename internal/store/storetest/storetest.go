// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"keygate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) store.Store

// Run exercises a backend against the shared contract
func Run(t *testing.T, newStore Factory) {
	t.Run("GetAccountMiss", func(t *testing.T) { testGetAccountMiss(t, newStore(t)) })
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newStore(t)) })
	t.Run("CreateDuplicateCustomer", func(t *testing.T) { testCreateDuplicateCustomer(t, newStore(t)) })
	t.Run("CreateDuplicateCredential", func(t *testing.T) { testCreateDuplicateCredential(t, newStore(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("SetActiveIdempotent", func(t *testing.T) { testSetActiveIdempotent(t, newStore(t)) })
	t.Run("SetActiveMissing", func(t *testing.T) { testSetActiveMissing(t, newStore(t)) })
	t.Run("ClaimEvent", func(t *testing.T) { testClaimEvent(t, newStore(t)) })
	t.Run("Usage", func(t *testing.T) { testUsage(t, newStore(t)) })
}

func newAccount(customerID, hashed string) *store.Account {
	return &store.Account{
		CustomerID:         customerID,
		HashedCredential:   hashed,
		SubscriptionItemID: "si_" + customerID,
		Active:             true,
	}
}

func testGetAccountMiss(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "cus_missing")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	_, err = s.CustomerForCredential(ctx, "hash_missing")
	assert.ErrorIs(t, err, store.ErrCredentialNotFound)

	exists, err := s.CredentialExists(ctx, "hash_missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testCreateAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, newAccount("cus_1", "hash_1")))

	account, err := s.GetAccount(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", account.CustomerID)
	assert.Equal(t, "hash_1", account.HashedCredential)
	assert.Equal(t, "si_cus_1", account.SubscriptionItemID)
	assert.True(t, account.Active)
	assert.False(t, account.CreatedAt.IsZero())

	customerID, err := s.CustomerForCredential(ctx, "hash_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customerID)

	exists, err := s.CredentialExists(ctx, "hash_1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testCreateDuplicateCustomer(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, newAccount("cus_1", "hash_1")))

	err := s.CreateAccount(ctx, newAccount("cus_1", "hash_2"))
	assert.ErrorIs(t, err, store.ErrAccountExists)

	// The losing credential must not be indexed
	exists, err := s.CredentialExists(ctx, "hash_2")
	require.NoError(t, err)
	assert.False(t, exists)

	account, err := s.GetAccount(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "hash_1", account.HashedCredential)
}

func testCreateDuplicateCredential(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, newAccount("cus_1", "hash_1")))

	err := s.CreateAccount(ctx, newAccount("cus_2", "hash_1"))
	assert.ErrorIs(t, err, store.ErrCredentialExists)

	_, err = s.GetAccount(ctx, "cus_2")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	customerID, err := s.CustomerForCredential(ctx, "hash_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customerID)
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateAccount(ctx, newAccount("cus_race", fmt.Sprintf("hash_race_%d", i)))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrAccountExists)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	account, err := s.GetAccount(ctx, "cus_race")
	require.NoError(t, err)
	customerID, err := s.CustomerForCredential(ctx, account.HashedCredential)
	require.NoError(t, err)
	assert.Equal(t, "cus_race", customerID)
}

func testSetActiveIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newAccount("cus_1", "hash_1")))

	account, err := s.SetActive(ctx, "cus_1", false)
	require.NoError(t, err)
	assert.False(t, account.Active)

	account, err = s.SetActive(ctx, "cus_1", false)
	require.NoError(t, err)
	assert.False(t, account.Active)

	account, err = s.SetActive(ctx, "cus_1", true)
	require.NoError(t, err)
	assert.True(t, account.Active)

	stored, err := s.GetAccount(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Equal(t, "hash_1", stored.HashedCredential)
}

func testSetActiveMissing(t *testing.T, s store.Store) {
	_, err := s.SetActive(context.Background(), "cus_missing", true)
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func testClaimEvent(t *testing.T, s store.Store) {
	ctx := context.Background()

	claimed, err := s.ClaimEvent(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimEvent(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, s.UnclaimEvent(ctx, "evt_1"))

	claimed, err = s.ClaimEvent(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func testUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		record := &store.UsageRecord{
			CustomerID:         "cus_1",
			SubscriptionItemID: "si_1",
			MeterEventID:       fmt.Sprintf("mev_%d", i),
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.RecordUsage(ctx, record))
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, int64(1), record.Quantity)
	}

	records, err := s.ListUsage(ctx, "cus_1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "mev_2", records[0].MeterEventID)
	assert.Equal(t, "mev_1", records[1].MeterEventID)

	records, err = s.ListUsage(ctx, "cus_other", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
