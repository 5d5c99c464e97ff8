package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/shared/postgresql"
)

// JobPoint is a geo-indexable open job: id plus coordinates.
type JobPoint struct {
	JobID     string  `db:"job_id"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
}

// CreateJob inserts a job and its required-skill references in one
// transaction.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	return postgresql.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO jobs (
				job_id, title, description, status, address_id,
				price, urgency, created_by, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9, $10
			)
		`

		_, err := tx.ExecContext(
			ctx,
			query,
			job.JobID,
			job.Title,
			job.Description,
			job.Status,
			job.AddressID,
			job.Price,
			job.Urgency,
			job.CreatedBy,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		for _, skillID := range job.RequiredSkills {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO job_skills (job_id, skill_id) VALUES ($1, $2)`,
				job.JobID, skillID,
			)
			if err != nil {
				return fmt.Errorf("failed to attach skill %s: %w", skillID, err)
			}
		}

		return nil
	})
}

// GetJob loads a job by id.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `
		SELECT job_id, title, description, status, address_id,
		       price, urgency, created_by, assigned_to, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("job %s not found", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJobFields persists the mutable non-status fields of a job.
func (s *Storage) UpdateJobFields(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET title = $2, description = $3, address_id = $4,
		    price = $5, urgency = $6, updated_at = $7
		WHERE job_id = $1
	`

	res, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.Title,
		job.Description,
		job.AddressID,
		job.Price,
		job.Urgency,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("job %s not found", job.JobID)
	}
	return nil
}

// UpdateJobStatus moves a job from → to with compare-and-set semantics:
// the update applies only while the row still holds the expected current
// status, so concurrent transitions cannot clobber each other.
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	query := `
		UPDATE jobs
		SET status = $3, updated_at = $4
		WHERE job_id = $1 AND status = $2
	`

	res, err := s.db.ExecContext(ctx, query, jobID, from, to, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domain.Conflictf("job %s is no longer %s", jobID, from)
	}
	return nil
}

// DeleteJob removes a job row; dependent bids, skills and the confirmation
// code cascade at the schema level.
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("job %s not found", jobID)
	}
	return nil
}

// ListOpenJobPoints returns every OPEN_FOR_BIDS job that has coordinates,
// for the startup geo sync.
func (s *Storage) ListOpenJobPoints(ctx context.Context) ([]JobPoint, error) {
	var points []JobPoint
	query := `
		SELECT j.job_id, a.latitude, a.longitude
		FROM jobs j
		JOIN addresses a ON a.address_id = j.address_id
		WHERE j.status = $1
		  AND a.latitude IS NOT NULL
		  AND a.longitude IS NOT NULL
	`

	if err := s.db.SelectContext(ctx, &points, query, domain.StatusOpenForBids); err != nil {
		return nil, fmt.Errorf("failed to list open job points: %w", err)
	}
	return points, nil
}

// ListOpenJobIDs returns the ids of every OPEN_FOR_BIDS job, for the
// stale-entry cleanup diff.
func (s *Storage) ListOpenJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	query := `SELECT job_id FROM jobs WHERE status = $1`

	if err := s.db.SelectContext(ctx, &ids, query, domain.StatusOpenForBids); err != nil {
		return nil, fmt.Errorf("failed to list open job ids: %w", err)
	}
	return ids, nil
}

// ListExpiredOpenJobs returns OPEN_FOR_BIDS jobs created before cutoff,
// oldest first, for the expiration sweep.
func (s *Storage) ListExpiredOpenJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	query := `
		SELECT job_id, title, description, status, address_id,
		       price, urgency, created_by, assigned_to, created_at, updated_at
		FROM jobs
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	if err := s.db.SelectContext(ctx, &jobs, query, domain.StatusOpenForBids, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return jobs, nil
}
