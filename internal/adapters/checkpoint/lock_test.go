package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	locker := NewRedisLocker(client, "test:", 5*time.Second)

	unlock, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:t1"), "lock key should be set")

	unlock()
	assert.False(t, mr.Exists("test:lock:t1"), "lock key should be removed")
}

func TestRedisLocker_Contention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	first := NewRedisLocker(client, "test:", 5*time.Second)
	second := NewRedisLocker(client, "test:", 5*time.Second)
	second.poll = 10 * time.Millisecond

	unlock, err := first.Lock(context.Background(), "t1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx, "t1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockAcquire), "error = %v", err)

	unlock()

	unlock2, err := second.Lock(context.Background(), "t1")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_ReleaseIgnoresForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	locker := NewRedisLocker(client, "test:", 5*time.Second)

	unlock, err := locker.Lock(context.Background(), "t1")
	require.NoError(t, err)

	// Simulate expiry and takeover by another holder.
	require.NoError(t, mr.Set("test:lock:t1", "someone-else"))
	unlock()

	got, err := mr.Get("test:lock:t1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
