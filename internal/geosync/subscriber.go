package geosync

import (
	"context"
	"log/slog"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
	"github.com/taskbid/taskbid-backend/internal/geo"
)

// HandleJobModified implements event.Subscriber: incremental index updates
// driven by committed job mutations. Events arrive post-commit, so every
// write here targets already-durable relational state.
func (s *Service) HandleJobModified(ctx context.Context, e event.JobModified) {
	switch {
	case e.EnteredOpenForBids():
		s.addFromEvent(ctx, e)
	case e.ExitedOpenForBids():
		if err := s.index.Remove(ctx, e.JobID); err != nil {
			s.deferRemove(ctx, e.JobID, err)
		}
	case e.Type == event.TypeUpdated && e.LocationChanged && e.NewStatus == domain.StatusOpenForBids:
		// Relocated while still open: re-add with the new coordinates.
		s.addFromEvent(ctx, e)
	}
}

// HandleJobExpired implements event.Subscriber. The expiration sweep also
// publishes the STATUS_CHANGED event that removes the job, so nothing is
// needed here.
func (s *Service) HandleJobExpired(ctx context.Context, e event.JobExpired) {}

func (s *Service) addFromEvent(ctx context.Context, e event.JobModified) {
	if e.Latitude == nil || e.Longitude == nil {
		s.logger.Debug("Job has no coordinates, skipping geo index add",
			slog.String("job_id", e.JobID),
		)
		return
	}

	if err := s.index.Add(ctx, e.JobID, *e.Latitude, *e.Longitude); err != nil {
		s.deferAdd(ctx, e.JobID, *e.Latitude, *e.Longitude, err)
	}
}

// FindNearby serves the "jobs near me" read path: open jobs within
// radiusKm of (lat, lon), nearest first.
func (s *Service) FindNearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]geo.Member, error) {
	if radiusKm <= 0 {
		return nil, domain.Validationf("radius must be positive")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.index.RadiusQuery(ctx, lat, lon, radiusKm, limit)
}
