// Package geosync keeps the geographic index eventually consistent with
// the relational record: index membership converges on the set of job ids
// whose status is OPEN_FOR_BIDS, tolerating transient unavailability of
// either store. The relational store is authoritative; the index is a
// best-effort derived view, so a failed index write never fails the
// primary operation.
package geosync

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/geo"
	"github.com/taskbid/taskbid-backend/internal/storage"
)

// Store is the slice of the relational store the sync engine needs.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetAddress(ctx context.Context, addressID string) (*domain.Address, error)
	ListOpenJobPoints(ctx context.Context) ([]storage.JobPoint, error)
	ListOpenJobIDs(ctx context.Context) ([]string, error)
	AppendFailedSync(ctx context.Context, rec *domain.FailedGeoSync) error
	ListUnresolvedFailedSyncs(ctx context.Context, maxRetries, limit int) ([]domain.FailedGeoSync, error)
	MarkFailedSyncResolved(ctx context.Context, id int64) error
	BumpFailedSyncRetry(ctx context.Context, id int64, lastError string) error
}

// Config tunes the retry sweep.
type Config struct {
	MaxRetries int // retry ceiling per failed record, default 5
	BatchSize  int // records per sweep, default 100
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Service owns the geo index lifecycle: startup sync, periodic cleanup,
// event-driven incremental updates and the retry sweep.
type Service struct {
	store  Store
	index  geo.Index
	logger *slog.Logger
	cfg    Config
}

// NewService creates the sync engine.
func NewService(store Store, index geo.Index, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:  store,
		index:  index,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// SyncAll bulk-adds every OPEN_FOR_BIDS job with coordinates to the index.
// Adds are idempotent upserts, so repeating a sync is safe. Individual
// failures are deferred to the retry sweep.
func (s *Service) SyncAll(ctx context.Context) error {
	points, err := s.store.ListOpenJobPoints(ctx)
	if err != nil {
		return err
	}

	synced := 0
	for _, p := range points {
		if err := s.index.Add(ctx, p.JobID, p.Latitude, p.Longitude); err != nil {
			s.deferAdd(ctx, p.JobID, p.Latitude, p.Longitude, err)
			continue
		}
		synced++
	}

	s.logger.Info("Geo index sync completed",
		slog.Int("total", len(points)),
		slog.Int("synced", synced),
	)
	return nil
}

// CleanupStale removes index members whose relational status is no longer
// OPEN_FOR_BIDS. Malformed members are skipped and logged, never fatal.
func (s *Service) CleanupStale(ctx context.Context) error {
	memberIDs, err := s.index.MemberIDs(ctx)
	if err != nil {
		return err
	}

	openIDs, err := s.store.ListOpenJobIDs(ctx)
	if err != nil {
		return err
	}
	open := make(map[string]struct{}, len(openIDs))
	for _, id := range openIDs {
		open[id] = struct{}{}
	}

	removed := 0
	for _, id := range memberIDs {
		if _, err := uuid.Parse(id); err != nil {
			s.logger.Warn("Skipping malformed geo index member",
				slog.String("member", id),
			)
			continue
		}
		if _, ok := open[id]; ok {
			continue
		}

		if err := s.index.Remove(ctx, id); err != nil {
			s.deferRemove(ctx, id, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Removed stale geo index entries",
			slog.Int("removed", removed),
		)
	}
	return nil
}

// RetryFailed replays unresolved failed writes, oldest first. A pending ADD
// whose job is no longer OPEN_FOR_BIDS is stale intent and resolves without
// writing; a REMOVE always retries (removal is always safe).
func (s *Service) RetryFailed(ctx context.Context) error {
	recs, err := s.store.ListUnresolvedFailedSyncs(ctx, s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		switch rec.Operation {
		case domain.GeoOpAdd:
			s.retryAdd(ctx, rec)
		case domain.GeoOpRemove:
			s.retryRemove(ctx, rec)
		default:
			s.logger.Warn("Skipping failed sync with unknown operation",
				slog.Int64("id", rec.ID),
				slog.String("operation", string(rec.Operation)),
			)
		}
	}
	return nil
}

func (s *Service) retryAdd(ctx context.Context, rec domain.FailedGeoSync) {
	job, err := s.store.GetJob(ctx, rec.JobID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			// Job is gone; the intent is stale.
			s.resolve(ctx, rec.ID)
			return
		}
		s.logger.Error("Retry sweep failed to load job",
			slog.String("job_id", rec.JobID),
			slog.Any("error", err),
		)
		return
	}

	if job.Status != domain.StatusOpenForBids {
		// Stale intent: the job left the bidding pool while the add was
		// waiting, so indexing it now would only create a stale entry.
		s.resolve(ctx, rec.ID)
		return
	}

	lat, lon := rec.Latitude, rec.Longitude
	if lat == nil || lon == nil {
		addr, err := s.store.GetAddress(ctx, job.AddressID)
		if err != nil || !addr.HasCoordinates() {
			s.resolve(ctx, rec.ID)
			return
		}
		lat, lon = addr.Latitude, addr.Longitude
	}

	if err := s.index.Add(ctx, rec.JobID, *lat, *lon); err != nil {
		s.bump(ctx, rec.ID, err)
		return
	}
	s.resolve(ctx, rec.ID)
}

func (s *Service) retryRemove(ctx context.Context, rec domain.FailedGeoSync) {
	if err := s.index.Remove(ctx, rec.JobID); err != nil {
		s.bump(ctx, rec.ID, err)
		return
	}
	s.resolve(ctx, rec.ID)
}

func (s *Service) resolve(ctx context.Context, id int64) {
	if err := s.store.MarkFailedSyncResolved(ctx, id); err != nil {
		s.logger.Error("Failed to mark geo sync resolved",
			slog.Int64("id", id),
			slog.Any("error", err),
		)
	}
}

func (s *Service) bump(ctx context.Context, id int64, cause error) {
	if err := s.store.BumpFailedSyncRetry(ctx, id, cause.Error()); err != nil {
		s.logger.Error("Failed to bump geo sync retry",
			slog.Int64("id", id),
			slog.Any("error", err),
		)
	}
}

// deferAdd records a failed index add for the retry sweep. The originating
// transaction has already committed; this must not surface to the caller.
func (s *Service) deferAdd(ctx context.Context, jobID string, lat, lon float64, cause error) {
	s.logger.Warn("Geo index add failed, deferring to retry sweep",
		slog.String("job_id", jobID),
		slog.Any("error", cause),
	)

	rec := &domain.FailedGeoSync{
		JobID:     jobID,
		Operation: domain.GeoOpAdd,
		Latitude:  &lat,
		Longitude: &lon,
		LastError: cause.Error(),
	}
	if err := s.store.AppendFailedSync(ctx, rec); err != nil {
		s.logger.Error("Failed to record geo sync failure",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) deferRemove(ctx context.Context, jobID string, cause error) {
	s.logger.Warn("Geo index remove failed, deferring to retry sweep",
		slog.String("job_id", jobID),
		slog.Any("error", cause),
	)

	rec := &domain.FailedGeoSync{
		JobID:     jobID,
		Operation: domain.GeoOpRemove,
		LastError: cause.Error(),
	}
	if err := s.store.AppendFailedSync(ctx, rec); err != nil {
		s.logger.Error("Failed to record geo sync failure",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}
