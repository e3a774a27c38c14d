package credential

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	hashes map[string]bool
	calls  int
	err    error
}

func (f *fakeIndex) CredentialExists(_ context.Context, hashed string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.hashes[hashed], nil
}

func TestGenerate_HashMatchesRaw(t *testing.T) {
	g := NewGenerator(&fakeIndex{}, 0)

	raw, hashed, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, KeyPrefix))
	assert.Len(t, raw, len(KeyPrefix)+EntropyBytes*2)
	assert.Equal(t, Hash(raw), hashed)
	assert.NotContains(t, hashed, raw)
}

func TestGenerate_Unique(t *testing.T) {
	g := NewGenerator(&fakeIndex{}, 0)
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		raw, _, err := g.Generate(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[raw], "duplicate key generated")
		seen[raw] = true
	}
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	// First read returns all zeros, second all ones.
	reads := 0
	collided := Hash(KeyPrefix + strings.Repeat("00", EntropyBytes))
	index := &fakeIndex{hashes: map[string]bool{collided: true}}

	g := NewGenerator(index, 3)
	g.random = func(b []byte) (int, error) {
		fill := byte(0)
		if reads > 0 {
			fill = 1
		}
		reads++
		for i := range b {
			b[i] = fill
		}
		return len(b), nil
	}

	raw, hashed, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KeyPrefix+strings.Repeat("01", EntropyBytes), raw)
	assert.Equal(t, Hash(raw), hashed)
	assert.Equal(t, 2, index.calls)
}

func TestGenerate_Exhausted(t *testing.T) {
	fixed := KeyPrefix + strings.Repeat("ab", EntropyBytes)
	index := &fakeIndex{hashes: map[string]bool{Hash(fixed): true}}

	g := NewGenerator(index, 4)
	g.random = func(b []byte) (int, error) {
		for i := range b {
			b[i] = 0xab
		}
		return len(b), nil
	}

	_, _, err := g.Generate(context.Background())
	assert.ErrorIs(t, err, ErrGenerationExhausted)
	assert.Equal(t, 4, index.calls)
}

func TestGenerate_IndexError(t *testing.T) {
	g := NewGenerator(&fakeIndex{err: errors.New("connection refused")}, 0)

	_, _, err := g.Generate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotErrorIs(t, err, ErrGenerationExhausted)
}

func TestGenerate_RandomFailure(t *testing.T) {
	g := NewGenerator(&fakeIndex{}, 0)
	g.random = func([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

	_, _, err := g.Generate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "random bytes")
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("gk_example"), Hash("gk_example"))
	assert.NotEqual(t, Hash("gk_example"), Hash("gk_example2"))
	assert.Len(t, Hash("anything"), 64)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "gk_01234567", Prefix("gk_0123456789abcdef"))
	assert.Equal(t, "gk_12", Prefix("gk_12"))
}
