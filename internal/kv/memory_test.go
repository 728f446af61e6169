package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "entry expires exactly at the deadline")
}

func TestMemory_IncrCountsAndExpires(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "c", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// TTL is set on first increment only; expiry resets the counter.
	now = now.Add(2 * time.Minute)
	n, err := m.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_SetOverwritesTTL(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", "v1", time.Minute))
	require.NoError(t, m.Set(ctx, "k", "v2", time.Hour))

	now = now.Add(30 * time.Minute)
	v, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}
