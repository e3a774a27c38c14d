// Package memory is an in-process Store backend for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"keygate/internal/store"
)

// Store keeps accounts, the credential index, claimed events and usage in maps
// guarded by a single RWMutex.
type Store struct {
	mu sync.RWMutex

	accounts    map[string]*store.Account
	credentials map[string]string
	events      map[string]string
	usage       map[string][]store.UsageRecord
}

// New creates an empty store
func New() *Store {
	return &Store{
		accounts:    make(map[string]*store.Account),
		credentials: make(map[string]string),
		events:      make(map[string]string),
		usage:       make(map[string][]store.UsageRecord),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) GetAccount(_ context.Context, customerID string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[customerID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) CustomerForCredential(_ context.Context, hashed string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customerID, ok := s.credentials[hashed]
	if !ok {
		return "", store.ErrCredentialNotFound
	}
	return customerID, nil
}

func (s *Store) CredentialExists(_ context.Context, hashed string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.credentials[hashed]
	return ok, nil
}

func (s *Store) CreateAccount(_ context.Context, account *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.CustomerID]; exists {
		return store.ErrAccountExists
	}
	if _, exists := s.credentials[account.HashedCredential]; exists {
		return store.ErrCredentialExists
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	cp := *account
	s.accounts[account.CustomerID] = &cp
	s.credentials[account.HashedCredential] = account.CustomerID
	return nil
}

func (s *Store) SetActive(_ context.Context, customerID string, active bool) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[customerID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if a.Active != active {
		a.Active = active
		a.UpdatedAt = time.Now().UTC()
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ClaimEvent(_ context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, claimed := s.events[eventID]; claimed {
		return false, nil
	}
	s.events[eventID] = eventType
	return true, nil
}

func (s *Store) UnclaimEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventID)
	return nil
}

func (s *Store) RecordUsage(_ context.Context, record *store.UsageRecord) error {
	store.PrepareUsage(record)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage[record.CustomerID] = append(s.usage[record.CustomerID], *record)
	return nil
}

// ListUsage returns the newest records first
func (s *Store) ListUsage(_ context.Context, customerID string, limit int) ([]store.UsageRecord, error) {
	limit = store.ClampLimit(limit)

	s.mu.RLock()
	records := append([]store.UsageRecord(nil), s.usage[customerID]...)
	s.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
