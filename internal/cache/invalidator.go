// Package cache evicts derived read-side cache entries in response to
// committed job mutations. Evictions are best-effort: a failed DEL is
// logged and the entry ages out by TTL instead.
package cache

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/taskbid/taskbid-backend/internal/event"
)

// Key layout of the read-side cache.
const (
	jobDetailPrefix  = "job:"
	clientJobsPrefix = "client:"
	workerFeedKey    = "feed:workers"
)

// Invalidator subscribes to JobModified and applies the minimum necessary
// eviction. The worker feed is a geographically filtered shared view, so
// only structural changes (create, status change, delete, relocation)
// evict it; plain field edits do not.
type Invalidator struct {
	client *redis.Client
	logger *slog.Logger
}

// NewInvalidator creates a cache invalidator over the given Redis client.
func NewInvalidator(client *redis.Client, logger *slog.Logger) *Invalidator {
	return &Invalidator{client: client, logger: logger}
}

// HandleJobModified implements event.Subscriber.
func (i *Invalidator) HandleJobModified(ctx context.Context, e event.JobModified) {
	i.evictKey(ctx, jobDetailPrefix+e.JobID)
	i.evictPattern(ctx, clientJobsPrefix+e.OwnerID+":jobs:*")

	if e.Type == event.TypeUpdated && !e.LocationChanged {
		return
	}
	i.evictKey(ctx, workerFeedKey)
}

// HandleJobExpired implements event.Subscriber. Expiration reaches the
// cache through the STATUS_CHANGED JobModified event; nothing extra to do.
func (i *Invalidator) HandleJobExpired(ctx context.Context, e event.JobExpired) {}

func (i *Invalidator) evictKey(ctx context.Context, key string) {
	if err := i.client.Del(ctx, key).Err(); err != nil {
		i.logger.Warn("Cache eviction failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

// evictPattern walks matching keys with SCAN and deletes them; KEYS would
// block Redis on large keyspaces.
func (i *Invalidator) evictPattern(ctx context.Context, pattern string) {
	iter := i.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		i.evictKey(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		i.logger.Warn("Cache pattern eviction failed",
			slog.String("pattern", pattern),
			slog.Any("error", err),
		)
	}
}
