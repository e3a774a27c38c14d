package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"keygate/internal/db/testutil"
	"keygate/internal/store"
	"keygate/internal/store/storetest"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	testutil.SkipIfNoDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore(t *testing.T) {
	client := newTestClient(t)
	s := NewFromClient(client, "")

	storetest.Run(t, func(t *testing.T) store.Store {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return s
	})
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := NewFromClient(client, "a:")
	b := NewFromClient(client, "b:")

	require.NoError(t, a.CreateAccount(ctx, &store.Account{
		CustomerID:         "cus_1",
		HashedCredential:   "hash_1",
		SubscriptionItemID: "si_1",
		Active:             true,
	}))

	_, err := b.GetAccount(ctx, "cus_1")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	ttl, err := client.TTL(ctx, "a:account:cus_1").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestRedisStore_ClaimedEventsExpire(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	s := NewFromClient(client, "")

	claimed, err := s.ClaimEvent(ctx, "evt_1", "invoice.paid")
	require.NoError(t, err)
	require.True(t, claimed)

	ttl, err := client.TTL(ctx, "keygate:event:evt_1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 6*24*time.Hour)
}
