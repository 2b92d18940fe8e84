package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentkit/pkg/platform/circuit"
	"consentkit/pkg/platform/sentinel"
)

// flakyStore wraps an in-memory store and fails every call while down is set.
type flakyStore struct {
	*InMemoryStore
	down bool
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.down {
		return nil, sentinel.ErrUnavailable
	}
	return f.InMemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.down {
		return sentinel.ErrUnavailable
	}
	return f.InMemoryStore.Set(ctx, key, value, ttl)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.down {
		return sentinel.ErrUnavailable
	}
	return f.InMemoryStore.Delete(ctx, key)
}

func TestFailoverStore(t *testing.T) {
	ctx := context.Background()
	key := Key("visitor")
	record := []byte(`{"necessary":true,"analytics":false,"marketing":false,"timestamp":"2025-01-01T00:00:00.000Z"}`)

	newStores := func() (*flakyStore, *InMemoryStore, *FailoverStore) {
		primary := &flakyStore{InMemoryStore: NewInMemory()}
		fallback := NewInMemory()
		breaker := circuit.New("consent-store", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
		return primary, fallback, NewFailover(primary, fallback, breaker, nil)
	}

	t.Run("healthy primary is used directly", func(t *testing.T) {
		primary, fallback, st := newStores()

		require.NoError(t, st.Set(ctx, key, record, time.Hour))

		got, err := st.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, record, got)
		assert.Equal(t, 1, primary.Len())
		assert.Equal(t, 0, fallback.Len())
	})

	t.Run("failures below the threshold surface", func(t *testing.T) {
		primary, fallback, st := newStores()
		primary.down = true

		err := st.Set(ctx, key, record, time.Hour)

		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
		assert.Equal(t, 0, fallback.Len())
	})

	t.Run("open circuit writes to the fallback", func(t *testing.T) {
		primary, fallback, st := newStores()
		primary.down = true
		_, _ = st.Get(ctx, key)

		require.NoError(t, st.Set(ctx, key, record, time.Hour))

		got, err := fallback.Get(ctx, DefaultKey)
		require.NoError(t, err)
		assert.Equal(t, record, got)
	})

	t.Run("outage record is found after recovery", func(t *testing.T) {
		primary, _, st := newStores()
		primary.down = true
		_, _ = st.Get(ctx, key)
		require.NoError(t, st.Set(ctx, key, record, time.Hour))

		primary.down = false
		got, err := st.Get(ctx, key)

		require.NoError(t, err)
		assert.Equal(t, record, got)
	})

	t.Run("delete clears both stores", func(t *testing.T) {
		primary, fallback, st := newStores()
		require.NoError(t, primary.Set(ctx, key, record, time.Hour))
		require.NoError(t, fallback.Set(ctx, DefaultKey, record, time.Hour))

		require.NoError(t, st.Delete(ctx, key))

		assert.Equal(t, 0, primary.Len())
		assert.Equal(t, 0, fallback.Len())
	})

	t.Run("malformed primary value is not masked", func(t *testing.T) {
		primary := &malformedStore{}
		st := NewFailover(primary, NewInMemory(), circuit.New("consent-store"), nil)

		_, err := st.Get(ctx, key)

		assert.True(t, errors.Is(err, sentinel.ErrMalformed))
	})
}

type malformedStore struct{ KV }

func (malformedStore) Get(context.Context, string) ([]byte, error) {
	return nil, sentinel.ErrMalformed
}
