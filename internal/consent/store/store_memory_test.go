package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentkit/pkg/platform/sentinel"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "jbweb_cookie_consent", Key(""))
	assert.Equal(t, "jbweb_cookie_consent:abc", Key("abc"))
}

func TestInMemoryStoreOperations(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`), time.Hour))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	// Overwrite keeps a single value
	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":2}`), time.Hour))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))
	assert.Equal(t, 1, s.Len())

	// Returned slices are copies
	got[0] = 'x'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(again))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, s.Delete(ctx, "k"), "deleting an absent key is not an error")
}

func TestInMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))

	now = now.Add(59 * time.Second)
	_, err := s.Get(ctx, "short")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = s.Get(ctx, "short")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.Equal(t, 1, s.Len(), "expired value is dropped on read")

	now = now.Add(10 * 365 * 24 * time.Hour)
	_, err = s.Get(ctx, "forever")
	require.NoError(t, err)
}
