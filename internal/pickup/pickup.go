// Package pickup hands a freshly issued credential to the customer exactly
// once. Entries are keyed by checkout session ID, kept only in this process's
// memory, and expire after a TTL.
package pickup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"keygate/internal/credential"

	"github.com/patrickmn/go-cache"
)

const (
	// DefaultTTL is how long an unclaimed credential waits for pickup
	DefaultTTL = time.Hour
	// DefaultSweepInterval is how often expired entries are evicted
	DefaultSweepInterval = time.Minute
)

// ErrNoSession is returned when a credential is issued without a session ID
var ErrNoSession = errors.New("no checkout session to key credential on")

// Issued is a credential waiting to be picked up
type Issued struct {
	SessionID  string
	CustomerID string
	Credential string
}

type entry struct {
	issued Issued
	taken  atomic.Bool
}

// Store holds issued credentials until they are taken or expire
type Store struct {
	// mu pairs Get with Delete so a credential is handed out once
	mu    sync.Mutex
	cache *cache.Cache
}

// New creates a pickup store. Non-positive values use the defaults.
func New(ttl, sweepInterval time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	c := cache.New(ttl, sweepInterval)
	c.OnEvicted(func(sessionID string, v interface{}) {
		e, ok := v.(*entry)
		if !ok || e.taken.Load() {
			return
		}
		slog.Warn("credential expired before pickup",
			"session_id", sessionID,
			"customer_id", e.issued.CustomerID,
		)
	})
	return &Store{cache: c}
}

// Deliver parks a credential for its checkout session
func (s *Store) Deliver(_ context.Context, issued Issued) error {
	if issued.SessionID == "" {
		return ErrNoSession
	}

	s.cache.Set(issued.SessionID, &entry{issued: issued}, cache.DefaultExpiration)

	slog.Info("credential ready for pickup",
		"session_id", issued.SessionID,
		"customer_id", issued.CustomerID,
		"key_prefix", credential.Prefix(issued.Credential),
	)
	return nil
}

// Take returns and removes the credential for a session. A second call, or a
// call after expiry, reports false.
func (s *Store) Take(sessionID string) (Issued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(sessionID)
	if !ok {
		return Issued{}, false
	}
	e := v.(*entry)
	e.taken.Store(true)
	s.cache.Delete(sessionID)
	return e.issued, true
}

// Len returns the number of parked credentials, including expired ones not
// yet evicted
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
