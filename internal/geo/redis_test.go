package geo_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbid/taskbid-backend/internal/geo"
)

func newTestIndex(t *testing.T) *geo.RedisIndex {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return geo.NewRedisIndex(client, "geo:open_jobs")
}

func TestRedisIndex_AddRemoveMembers(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "job-1", 52.52, 13.405))
	require.NoError(t, idx.Add(ctx, "job-2", 48.137, 11.575))

	ids, err := idx.MemberIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, ids)

	// Re-adding moves the member rather than duplicating it.
	require.NoError(t, idx.Add(ctx, "job-1", 50.110, 8.682))
	ids, err = idx.MemberIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	require.NoError(t, idx.Remove(ctx, "job-1"))
	ids, err = idx.MemberIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-2"}, ids)

	// Removing an absent member is a no-op, not an error.
	require.NoError(t, idx.Remove(ctx, "job-1"))
}

func TestRedisIndex_EmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	ids, err := idx.MemberIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNoopIndex(t *testing.T) {
	idx := geo.NewNoopIndex()
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "job-1", 52.52, 13.405))
	require.NoError(t, idx.Remove(ctx, "job-1"))

	ids, err := idx.MemberIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	members, err := idx.RadiusQuery(ctx, 52.52, 13.405, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, members)
}
