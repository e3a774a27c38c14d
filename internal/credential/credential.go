// Package credential issues API keys and derives the digest used to store and
// look them up. Raw keys are never persisted.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeyPrefix marks keygate credentials so they are recognizable in logs and configs
	KeyPrefix = "gk_"
	// EntropyBytes is the number of random bytes behind each key
	EntropyBytes = 16
	// DefaultMaxAttempts bounds regeneration on hash collision
	DefaultMaxAttempts = 5

	displayPrefixLen = len(KeyPrefix) + 8
)

// ErrGenerationExhausted is returned when every attempt produced a hash that is
// already present in the index.
var ErrGenerationExhausted = errors.New("credential generation exhausted")

// Index reports whether a hashed credential is already issued.
type Index interface {
	CredentialExists(ctx context.Context, hashed string) (bool, error)
}

// Generator produces unique credentials against an Index.
type Generator struct {
	index       Index
	maxAttempts int
	random      func([]byte) (int, error)
}

// NewGenerator creates a generator. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewGenerator(index Index, maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		index:       index,
		maxAttempts: maxAttempts,
		random:      rand.Read,
	}
}

// Generate returns a fresh raw key and its hash. The hash is checked against the
// index; persistence is the caller's job.
func (g *Generator) Generate(ctx context.Context) (raw, hashed string, err error) {
	for i := 0; i < g.maxAttempts; i++ {
		raw, err = g.newKey()
		if err != nil {
			return "", "", err
		}
		hashed = Hash(raw)

		exists, err := g.index.CredentialExists(ctx, hashed)
		if err != nil {
			return "", "", fmt.Errorf("failed to check credential index: %w", err)
		}
		if !exists {
			return raw, hashed, nil
		}
	}
	return "", "", ErrGenerationExhausted
}

// MaxAttempts returns the collision budget of this generator.
func (g *Generator) MaxAttempts() int {
	return g.maxAttempts
}

func (g *Generator) newKey() (string, error) {
	buf := make([]byte, EntropyBytes)
	if _, err := g.random(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// Hash creates the SHA-256 digest of a raw credential for storage and lookup
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the loggable head of a raw key ("gk_1a2b3c4d").
func Prefix(raw string) string {
	if len(raw) <= displayPrefixLen {
		return raw
	}
	return raw[:displayPrefixLen]
}
