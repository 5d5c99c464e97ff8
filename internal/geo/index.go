// Package geo abstracts the geographic index behind a small interface so
// the core can run against Redis GEO, or a no-op profile in environments
// without Redis. The index is a derived view; membership is healed by the
// geosync package, never trusted blindly.
package geo

import "context"

// Member is one radius-query hit, ordered nearest first.
type Member struct {
	JobID      string
	DistanceKm float64
}

// Index is the geographic lookup index over open jobs.
type Index interface {
	// Add upserts a job's position; repeating an Add is safe.
	Add(ctx context.Context, jobID string, lat, lon float64) error
	// Remove drops a job from the index; removing a missing member is safe.
	Remove(ctx context.Context, jobID string) error
	// RadiusQuery returns up to limit jobs within radiusKm of (lat, lon),
	// nearest first.
	RadiusQuery(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Member, error)
	// MemberIDs returns every id currently in the index.
	MemberIDs(ctx context.Context) ([]string, error)
}
