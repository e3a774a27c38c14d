// Package redisstore is the Redis (or Dragonfly) store backend. Accounts are
// JSON strings, the credential index is a plain key per hash, and
// insert-if-absent runs as a WATCH/MULTI/EXEC transaction.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"keygate/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "keygate:"

	// eventTTL bounds how long a claimed event ID is remembered. Stripe stops
	// retrying deliveries after three days.
	eventTTL = 7 * 24 * time.Hour

	maxTxRetries = 10
)

var errTxRetriesExhausted = errors.New("redis transaction retries exhausted")

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements store.Store on go-redis
type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewFromClient(client, opts.Prefix), nil
}

// NewFromClient wraps an existing client. An empty prefix uses "keygate:".
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) accountKey(customerID string) string { return s.prefix + "account:" + customerID }
func (s *Store) credentialKey(hashed string) string  { return s.prefix + "cred:" + hashed }
func (s *Store) eventKey(eventID string) string      { return s.prefix + "event:" + eventID }
func (s *Store) usageKey(customerID string) string   { return s.prefix + "usage:" + customerID }

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *Store) Close() {
	s.client.Close()
}

func getAccount(ctx context.Context, c redis.Cmdable, key string) (*store.Account, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	var a store.Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &a, nil
}

// GetAccount retrieves the account for a customer
func (s *Store) GetAccount(ctx context.Context, customerID string) (*store.Account, error) {
	return getAccount(ctx, s.client, s.accountKey(customerID))
}

// CustomerForCredential resolves a hashed credential
func (s *Store) CustomerForCredential(ctx context.Context, hashed string) (string, error) {
	customerID, err := s.client.Get(ctx, s.credentialKey(hashed)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to look up credential: %w", err)
	}
	return customerID, nil
}

// CredentialExists reports whether a hashed credential is indexed
func (s *Store) CredentialExists(ctx context.Context, hashed string) (bool, error) {
	n, err := s.client.Exists(ctx, s.credentialKey(hashed)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check credential existence: %w", err)
	}
	return n > 0, nil
}

// CreateAccount writes the account and its index entry in one MULTI/EXEC
// guarded by WATCH on both keys. A conflicting writer aborts the transaction
// and the checks are re-run.
func (s *Store) CreateAccount(ctx context.Context, account *store.Account) error {
	accountKey := s.accountKey(account.CustomerID)
	credKey := s.credentialKey(account.HashedCredential)

	now := time.Now().UTC()
	rec := *account
	rec.CreatedAt = now
	rec.UpdatedAt = now
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, accountKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrAccountExists
		}
		n, err = tx.Exists(ctx, credKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrCredentialExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey, payload, 0)
			pipe.Set(ctx, credKey, account.CustomerID, 0)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, accountKey, credKey); err != nil {
		if errors.Is(err, store.ErrAccountExists) || errors.Is(err, store.ErrCredentialExists) {
			return err
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// SetActive flips the activation flag under WATCH
func (s *Store) SetActive(ctx context.Context, customerID string, active bool) (*store.Account, error) {
	key := s.accountKey(customerID)
	var result *store.Account

	txf := func(tx *redis.Tx) error {
		a, err := getAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		if a.Active == active {
			result = a
			return nil
		}
		a.Active = active
		a.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(a)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			result = a
		}
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
	return result, nil
}

func (s *Store) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errTxRetriesExhausted
}

// ClaimEvent uses SET NX so exactly one concurrent caller wins
func (s *Store) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.eventKey(eventID), eventType, eventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return ok, nil
}

// UnclaimEvent releases a claim
func (s *Store) UnclaimEvent(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.eventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to unclaim webhook event: %w", err)
	}
	return nil
}

// RecordUsage adds the record to a per-customer sorted set scored by time
func (s *Store) RecordUsage(ctx context.Context, rec *store.UsageRecord) error {
	store.PrepareUsage(rec)

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode usage: %w", err)
	}
	err = s.client.ZAdd(ctx, s.usageKey(rec.CustomerID), redis.Z{
		Score:  float64(rec.CreatedAt.UnixMicro()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ListUsage returns the newest records first
func (s *Store) ListUsage(ctx context.Context, customerID string, limit int) ([]store.UsageRecord, error) {
	limit = store.ClampLimit(limit)

	members, err := s.client.ZRevRange(ctx, s.usageKey(customerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}

	records := make([]store.UsageRecord, 0, len(members))
	for _, m := range members {
		var r store.UsageRecord
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, fmt.Errorf("failed to decode usage: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}
