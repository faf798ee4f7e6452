package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemory_IncrKeepsFirstTTL(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemoryWithClock(clk.now)

	n, _ := m.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)
	clk.advance(50 * time.Second)
	n, _ = m.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), n)

	// The second increment did not extend the window.
	clk.advance(11 * time.Second)
	n, _ = m.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestMemory_SetGetTake(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemoryWithClock(clk.now)

	require.NoError(t, m.Set(ctx, "slot", "msg", time.Minute))
	v, ok, _ := m.Get(ctx, "slot")
	assert.True(t, ok)
	assert.Equal(t, "msg", v)

	v, ok, _ = m.Take(ctx, "slot")
	assert.True(t, ok)
	assert.Equal(t, "msg", v)
	_, ok, _ = m.Take(ctx, "slot")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "slot", "msg", time.Minute))
	clk.advance(time.Minute)
	_, ok, _ = m.Get(ctx, "slot")
	assert.False(t, ok)
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(0, 0)}
	m := NewMemoryWithClock(clk.now)
	_, _ = m.Incr(ctx, "total", 0)
	clk.advance(24 * 365 * time.Hour)
	m.Sweep()
	v, ok, _ := m.Get(ctx, "total")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedis(client, "doi:")
}

func TestRedis_IncrWindow(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	for i := int64(1); i <= 3; i++ {
		n, err := r.Incr(ctx, "rl", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, time.Minute, mr.TTL("doi:rl"))

	mr.FastForward(time.Minute + time.Second)
	n, err := r.Incr(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedis_SetGetTake(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	_, ok, err := r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "slot", "oops", time.Minute))
	v, ok, err := r.Take(ctx, "slot")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "oops", v)

	_, ok, err = r.Take(ctx, "slot")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient("::nope")
	assert.Error(t, err)
}
