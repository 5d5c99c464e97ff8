// Package lifecycle owns the authoritative job status and validates every
// transition requested by the other services. Side effects (geo index,
// caches, notifications) are emitted as events after commit, never
// performed inline.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
)

// SystemActor marks transitions driven by background sweeps rather than a
// client or worker.
const SystemActor = "system"

// Store is the slice of the relational store the lifecycle needs.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobFields(ctx context.Context, job *domain.Job) error
	UpdateJobStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error
	DeleteJob(ctx context.Context, jobID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
	GetAddress(ctx context.Context, addressID string) (*domain.Address, error)
	SkillsExist(ctx context.Context, skillIDs []string) (bool, error)
	ListExpiredOpenJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
}

// Publisher is the post-commit event sink.
type Publisher interface {
	PublishJobModified(e event.JobModified)
	PublishJobExpired(e event.JobExpired)
}

// Service is the job lifecycle state machine.
type Service struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
}

// NewService creates the lifecycle service.
func NewService(store Store, bus Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// CreateJobRequest carries the fields of a new job posting.
type CreateJobRequest struct {
	Title          string
	Description    string
	AddressID      string
	Price          int64
	Urgency        string
	RequiredSkills []string
}

// CreateJob validates the owner, location and skills, persists the job as
// OPEN_FOR_BIDS, and publishes JobModified{CREATED}.
func (s *Service) CreateJob(ctx context.Context, ownerID string, req CreateJobRequest) (*domain.Job, error) {
	if req.Title == "" {
		return nil, domain.Validationf("job title is required")
	}
	if len(req.RequiredSkills) == 0 {
		return nil, domain.Validationf("at least one required skill is required")
	}

	exists, err := s.store.UserExists(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.NotFoundf("user %s not found", ownerID)
	}

	addr, err := s.store.GetAddress(ctx, req.AddressID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.SkillsExist(ctx, req.RequiredSkills)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Validationf("one or more required skills are unknown")
	}

	now := time.Now()
	job := &domain.Job{
		JobID:          uuid.New().String(),
		Title:          req.Title,
		Description:    req.Description,
		Status:         domain.StatusOpenForBids,
		AddressID:      req.AddressID,
		Price:          req.Price,
		Urgency:        req.Urgency,
		CreatedBy:      ownerID,
		RequiredSkills: req.RequiredSkills,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("owner_id", ownerID),
	)

	s.bus.PublishJobModified(event.JobModified{
		JobID:     job.JobID,
		OwnerID:   ownerID,
		ActorID:   ownerID,
		Type:      event.TypeCreated,
		NewStatus: job.Status,
		Latitude:  addr.Latitude,
		Longitude: addr.Longitude,
	})

	return job, nil
}

// UpdateJobPatch carries optional field edits; nil means "leave as is".
// Status is deliberately absent: callers must go through UpdateStatus.
type UpdateJobPatch struct {
	Title       *string
	Description *string
	AddressID   *string
	Price       *int64
	Urgency     *string
}

// UpdateJob applies a field patch on behalf of the owning client and
// publishes JobModified{UPDATED} noting whether the location changed.
func (s *Service) UpdateJob(ctx context.Context, jobID, actorID string, patch UpdateJobPatch) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != actorID {
		return nil, domain.Forbiddenf("only the job owner may update job %s", jobID)
	}

	locationChanged := false
	if patch.Title != nil {
		job.Title = *patch.Title
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Price != nil {
		job.Price = *patch.Price
	}
	if patch.Urgency != nil {
		job.Urgency = *patch.Urgency
	}
	if patch.AddressID != nil && *patch.AddressID != job.AddressID {
		job.AddressID = *patch.AddressID
		locationChanged = true
	}

	addr, err := s.store.GetAddress(ctx, job.AddressID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateJobFields(ctx, job); err != nil {
		return nil, err
	}

	s.bus.PublishJobModified(event.JobModified{
		JobID:           job.JobID,
		OwnerID:         job.CreatedBy,
		ActorID:         actorID,
		Type:            event.TypeUpdated,
		OldStatus:       job.Status,
		NewStatus:       job.Status,
		LocationChanged: locationChanged,
		Latitude:        addr.Latitude,
		Longitude:       addr.Longitude,
	})

	return job, nil
}

// UpdateStatus moves a job to target after validating the transition table
// and the caller. JOB_CLOSED_DUE_TO_EXPIRATION is reserved for the
// expiration sweep (system actor).
func (s *Service) UpdateStatus(ctx context.Context, jobID, actorID string, target domain.JobStatus) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if actorID != SystemActor {
		assigned := job.AssignedTo != nil && *job.AssignedTo == actorID
		if job.CreatedBy != actorID && !assigned {
			return nil, domain.Forbiddenf("actor %s may not transition job %s", actorID, jobID)
		}
		if target == domain.StatusClosedExpired {
			return nil, domain.Forbiddenf("job expiration is system-driven")
		}
	}

	if job.Status == target {
		return nil, domain.Conflictf("job %s is already %s", jobID, target)
	}
	if !domain.CanTransition(job.Status, target) {
		return nil, domain.Conflictf("job %s cannot move from %s to %s", jobID, job.Status, target)
	}
	// Re-opening a job that has a selected bid is reserved for the handshake
	// path, which rejects that bid in the same transaction. Taking the edge
	// here would strand a SELECTED bid behind an open job.
	if job.Status == domain.StatusBidSelected && target == domain.StatusOpenForBids {
		return nil, domain.Conflictf("job %s re-opens only through a rejected handshake", jobID)
	}

	oldStatus := job.Status
	if err := s.store.UpdateJobStatus(ctx, jobID, oldStatus, target); err != nil {
		return nil, err
	}
	job.Status = target

	s.logger.Info("Job status changed",
		slog.String("job_id", jobID),
		slog.String("from", string(oldStatus)),
		slog.String("to", string(target)),
		slog.String("actor_id", actorID),
	)

	s.publishStatusChange(ctx, job, actorID, oldStatus, target)
	return job, nil
}

// DeleteJob removes a job on behalf of its owner, from any status, and
// publishes JobModified{DELETED}.
func (s *Service) DeleteJob(ctx context.Context, jobID, actorID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.CreatedBy != actorID {
		return domain.Forbiddenf("only the job owner may delete job %s", jobID)
	}

	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info("Job deleted",
		slog.String("job_id", jobID),
		slog.String("actor_id", actorID),
	)

	s.bus.PublishJobModified(event.JobModified{
		JobID:     job.JobID,
		OwnerID:   job.CreatedBy,
		ActorID:   actorID,
		Type:      event.TypeDeleted,
		OldStatus: job.Status,
	})
	return nil
}

// ExpireJobs closes OPEN_FOR_BIDS jobs older than maxAge. Invoked by the
// scheduler under the cluster-wide task lock; a job raced into another
// status between the scan and the CAS is skipped, not failed.
func (s *Service) ExpireJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	jobs, err := s.store.ListExpiredOpenJobs(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, job := range jobs {
		err := s.store.UpdateJobStatus(ctx, job.JobID, domain.StatusOpenForBids, domain.StatusClosedExpired)
		if err != nil {
			if domain.IsKind(err, domain.KindConflict) {
				continue
			}
			return expired, err
		}
		expired++

		job := job
		job.Status = domain.StatusClosedExpired
		s.publishStatusChange(ctx, &job, SystemActor, domain.StatusOpenForBids, domain.StatusClosedExpired)
		s.bus.PublishJobExpired(event.JobExpired{
			JobID:    job.JobID,
			ClientID: job.CreatedBy,
		})
	}

	if expired > 0 {
		s.logger.Info("Expired stale jobs",
			slog.Int("count", expired),
		)
	}
	return expired, nil
}

// publishStatusChange publishes a STATUS_CHANGED event, attaching the
// job's coordinates when it re-enters OPEN_FOR_BIDS so the geo index can
// re-add it without a second lookup.
func (s *Service) publishStatusChange(ctx context.Context, job *domain.Job, actorID string, from, to domain.JobStatus) {
	e := event.JobModified{
		JobID:     job.JobID,
		OwnerID:   job.CreatedBy,
		ActorID:   actorID,
		Type:      event.TypeStatusChanged,
		OldStatus: from,
		NewStatus: to,
	}

	if to == domain.StatusOpenForBids {
		if addr, err := s.store.GetAddress(ctx, job.AddressID); err == nil {
			e.Latitude = addr.Latitude
			e.Longitude = addr.Longitude
		} else {
			s.logger.Warn("Failed to resolve address for status event",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
	}

	s.bus.PublishJobModified(e)
}
