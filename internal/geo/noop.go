package geo

import "context"

// NoopIndex is the profile used when no Redis is configured: every write
// succeeds silently and every query is empty. Job visibility then relies on
// the relational store alone.
type NoopIndex struct{}

func NewNoopIndex() *NoopIndex { return &NoopIndex{} }

func (NoopIndex) Add(ctx context.Context, jobID string, lat, lon float64) error { return nil }

func (NoopIndex) Remove(ctx context.Context, jobID string) error { return nil }

func (NoopIndex) RadiusQuery(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Member, error) {
	return nil, nil
}

func (NoopIndex) MemberIDs(ctx context.Context) ([]string, error) { return nil, nil }
