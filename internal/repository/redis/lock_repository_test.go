package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRepository_MutexExcludes(t *testing.T) {
	client, _ := newTestClient(t)
	locks := NewLockRepository(client)
	ctx := context.Background()

	release, err := locks.Lock(ctx, "goto:abc123")
	require.NoError(t, err)

	// A second acquire spins until its context expires.
	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(blocked, "goto:abc123")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	release2, err := locks.Lock(ctx, "goto:abc123")
	require.NoError(t, err)
	release2()
}

func TestLockRepository_ReadersShareWritersExclude(t *testing.T) {
	client, _ := newTestClient(t)
	locks := NewLockRepository(client)
	ctx := context.Background()

	// Two readers hold the lock at once.
	r1, err := locks.RLock(ctx, "link:abc123")
	require.NoError(t, err)
	r2, err := locks.RLock(ctx, "link:abc123")
	require.NoError(t, err)

	// A writer cannot enter while readers are present.
	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locks.WLock(blocked, "link:abc123")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r1()
	r2()

	w, err := locks.WLock(ctx, "link:abc123")
	require.NoError(t, err)

	// Readers block while the writer holds it.
	blocked2, cancel2 := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel2()
	_, err = locks.RLock(blocked2, "link:abc123")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	w()

	r3, err := locks.RLock(ctx, "link:abc123")
	require.NoError(t, err)
	r3()
}

func TestLockRepository_KeysAreIndependent(t *testing.T) {
	client, _ := newTestClient(t)
	locks := NewLockRepository(client)
	ctx := context.Background()

	w, err := locks.WLock(ctx, "link:abc123")
	require.NoError(t, err)
	defer w()

	// A different key is unaffected by the held writer.
	r, err := locks.RLock(ctx, "link:zzz999")
	require.NoError(t, err)
	r()
}
