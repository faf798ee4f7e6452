package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_ExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedisLock(client, "sweep", time.Minute)
	b := NewRedisLock(client, "sweep", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the lock, so its release is a no-op.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:sweep"))

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedisLock(client, "sweep", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = NewRedisLock(client, "sweep", time.Second).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func newPGLock(t *testing.T) (*PGAdvisoryLock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGAdvisoryLock(db, "sweep"), mock
}

func boolRow(name string, v bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{name}).AddRow(v)
}

func TestPGAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	l, mock := newPGLock(t)
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(boolRow("pg_try_advisory_lock", true))
	mock.ExpectQuery("SELECT pg_advisory_unlock").
		WithArgs(l.lockID).
		WillReturnRows(boolRow("pg_advisory_unlock", true))

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, l.conn)

	// Held by this holder already, no second round trip.
	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx))
	assert.Nil(t, l.conn)
	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_HeldElsewhere(t *testing.T) {
	l, mock := newPGLock(t)
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(boolRow("pg_try_advisory_lock", false))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, l.conn)
	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_UnlockNotHeld(t *testing.T) {
	ctx := context.Background()
	l, mock := newPGLock(t)
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(boolRow("pg_try_advisory_lock", true))
	mock.ExpectQuery("SELECT pg_advisory_unlock").
		WillReturnRows(boolRow("pg_advisory_unlock", false))

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = l.Release(ctx)
	assert.ErrorContains(t, err, "not held")
	assert.Nil(t, l.conn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalLock(t *testing.T) {
	l := New(nil, nil, "sweep", time.Minute)
	ok, _ := l.Acquire(context.Background())
	assert.True(t, ok)
	ok, _ = l.Acquire(context.Background())
	assert.False(t, ok)
	require.NoError(t, l.Release(context.Background()))
	ok, _ = l.Acquire(context.Background())
	assert.True(t, ok)
}
