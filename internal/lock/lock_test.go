package lock_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbid/taskbid-backend/internal/lock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTaskLock_AcquireAndRelease(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	holder := lock.NewTaskLock(client, testLogger())
	rival := lock.NewTaskLock(client, testLogger())

	ok, err := holder.TryAcquire(ctx, "geo_sync_all", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:task:geo_sync_all"))

	// A second instance cannot take the held lock.
	ok, err = rival.TryAcquire(ctx, "geo_sync_all", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// An unrelated task is independent.
	ok, err = rival.TryAcquire(ctx, "job_expiration", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, holder.Release(ctx, "geo_sync_all"))
	assert.False(t, mr.Exists("lock:task:geo_sync_all"))

	ok, err = rival.TryAcquire(ctx, "geo_sync_all", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTaskLock_ExpiresByTTL(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	holder := lock.NewTaskLock(client, testLogger())
	rival := lock.NewTaskLock(client, testLogger())

	ok, err := holder.TryAcquire(ctx, "geo_retry_failed", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(200 * time.Millisecond)

	ok, err = rival.TryAcquire(ctx, "geo_retry_failed", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be acquirable")
}

// TestTaskLock_ReleaseDoesNotStealReacquiredLock covers the token check:
// after the holder's lock expired and another instance took it, the stale
// holder's release must leave the new lock alone.
func TestTaskLock_ReleaseDoesNotStealReacquiredLock(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	stale := lock.NewTaskLock(client, testLogger())
	fresh := lock.NewTaskLock(client, testLogger())

	ok, err := stale.TryAcquire(ctx, "geo_cleanup_stale", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(200 * time.Millisecond)

	ok, err = fresh.TryAcquire(ctx, "geo_cleanup_stale", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx, "geo_cleanup_stale"))
	assert.True(t, mr.Exists("lock:task:geo_cleanup_stale"), "fresh holder's lock must survive a stale release")
}

func TestTaskLock_ReleaseWithoutHoldingIsNoop(t *testing.T) {
	_, client := setup(t)

	l := lock.NewTaskLock(client, testLogger())
	assert.NoError(t, l.Release(context.Background(), "never_acquired"))
}
