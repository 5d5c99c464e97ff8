package geo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisIndex implements Index on a single Redis GEO key (a sorted set
// under the hood, so MemberIDs is a plain ZRANGE).
type RedisIndex struct {
	client *redis.Client
	key    string
}

// NewRedisIndex creates an index over the given Redis key.
func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Add(ctx context.Context, jobID string, lat, lon float64) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      jobID,
		Latitude:  lat,
		Longitude: lon,
	}).Err()
	if err != nil {
		return fmt.Errorf("geo add %s: %w", jobID, err)
	}
	return nil
}

func (r *RedisIndex) Remove(ctx context.Context, jobID string) error {
	if err := r.client.ZRem(ctx, r.key, jobID).Err(); err != nil {
		return fmt.Errorf("geo remove %s: %w", jobID, err)
	}
	return nil
}

func (r *RedisIndex) RadiusQuery(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Member, error) {
	locs, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   lat,
			Longitude:  lon,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius query: %w", err)
	}

	members := make([]Member, 0, len(locs))
	for _, loc := range locs {
		members = append(members, Member{JobID: loc.Name, DistanceKm: loc.Dist})
	}
	return members, nil
}

func (r *RedisIndex) MemberIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("geo member ids: %w", err)
	}
	return ids, nil
}
