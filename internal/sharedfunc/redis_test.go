package sharedfunc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server: ROBOTTELO_TEST_REDIS=localhost:6379.
func newRedisStorage(t *testing.T) *RedisStorage {
	t.Helper()
	addr := os.Getenv("ROBOTTELO_TEST_REDIS")
	if addr == "" {
		t.Skip("ROBOTTELO_TEST_REDIS not set")
	}
	st, err := NewRedisStorage(RedisOptions{Addr: addr, Scope: uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedisStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newRedisStorage(t)

	_, err := st.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := st.SetNX(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.SetNX(ctx, "k", []byte("w"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := st.Incr(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, st.Delete(ctx, "k"))
	_, err = st.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageShared(t *testing.T) {
	st := newRedisStorage(t)
	calls := 0
	for i := 0; i < 2; i++ {
		got, err := Shared(context.Background(), st, "k", sharedOptions(), func(context.Context) (string, error) {
			calls++
			return "value", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	}
	assert.Equal(t, 1, calls)
}
