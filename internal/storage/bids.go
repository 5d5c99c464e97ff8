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

// CreateBid inserts a new PENDING bid.
func (s *Storage) CreateBid(ctx context.Context, bid *domain.Bid) error {
	query := `
		INSERT INTO bids (bid_id, job_id, worker_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		bid.BidID,
		bid.JobID,
		bid.WorkerID,
		bid.Amount,
		bid.Status,
		bid.CreatedAt,
		bid.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bid: %w", err)
	}
	return nil
}

// GetBid loads a bid by id.
func (s *Storage) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	var bid domain.Bid
	query := `
		SELECT bid_id, job_id, worker_id, amount, status, created_at, updated_at
		FROM bids
		WHERE bid_id = $1
	`

	err := s.db.GetContext(ctx, &bid, query, bidID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("bid %s not found", bidID)
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return &bid, nil
}

// HasBid is the authoritative duplicate-bid check behind the bloom-filter
// pre-check.
func (s *Storage) HasBid(ctx context.Context, jobID, workerID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bids WHERE job_id = $1 AND worker_id = $2)`

	if err := s.db.GetContext(ctx, &exists, query, jobID, workerID); err != nil {
		return false, fmt.Errorf("failed to check bid existence: %w", err)
	}
	return exists, nil
}

// AcceptBidExclusive atomically selects one bid and rejects every other
// pending bid of the job. The job row is locked first (SELECT ... FOR
// UPDATE), serializing concurrent accepts so exactly one winner survives.
// Returns the job in its post-transition state.
func (s *Storage) AcceptBidExclusive(ctx context.Context, jobID, bidID string) (*domain.Job, error) {
	var job domain.Job

	err := postgresql.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		lockQuery := `
			SELECT job_id, title, description, status, address_id,
			       price, urgency, created_by, assigned_to, created_at, updated_at
			FROM jobs
			WHERE job_id = $1
			FOR UPDATE
		`
		if err := tx.GetContext(ctx, &job, lockQuery, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFoundf("job %s not found", jobID)
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}

		if job.Status != domain.StatusOpenForBids {
			return domain.Conflictf("job %s is not open for bids", jobID)
		}

		now := time.Now()

		res, err := tx.ExecContext(ctx,
			`UPDATE bids SET status = $3, updated_at = $4 WHERE bid_id = $1 AND job_id = $2 AND status = $5`,
			bidID, jobID, domain.BidSelected, now, domain.BidPending,
		)
		if err != nil {
			return fmt.Errorf("failed to select bid: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if rows == 0 {
			return domain.Conflictf("bid %s is not pending on job %s", bidID, jobID)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE bids SET status = $2, updated_at = $3 WHERE job_id = $1 AND status = $4`,
			jobID, domain.BidRejected, now, domain.BidPending,
		)
		if err != nil {
			return fmt.Errorf("failed to reject remaining bids: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = $2, updated_at = $3 WHERE job_id = $1`,
			jobID, domain.StatusBidSelected, now,
		)
		if err != nil {
			return fmt.Errorf("failed to advance job status: %w", err)
		}

		job.Status = domain.StatusBidSelected
		job.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CompleteHandshakeExclusive finalizes the worker's accept/reject of a
// selected bid under the job row lock. Accepting assigns the worker and
// advances the job to READY_TO_START; rejecting marks the bid REJECTED and
// re-opens the job for bidding.
func (s *Storage) CompleteHandshakeExclusive(ctx context.Context, jobID, bidID, workerID string, accepted bool) (*domain.Job, error) {
	var job domain.Job

	err := postgresql.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		lockQuery := `
			SELECT job_id, title, description, status, address_id,
			       price, urgency, created_by, assigned_to, created_at, updated_at
			FROM jobs
			WHERE job_id = $1
			FOR UPDATE
		`
		if err := tx.GetContext(ctx, &job, lockQuery, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFoundf("job %s not found", jobID)
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}

		if job.Status != domain.StatusBidSelected {
			return domain.Conflictf("job %s is not awaiting a handshake", jobID)
		}

		var bidStatus domain.BidStatus
		err := tx.GetContext(ctx, &bidStatus,
			`SELECT status FROM bids WHERE bid_id = $1 AND job_id = $2 AND worker_id = $3`,
			bidID, jobID, workerID,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFoundf("bid %s not found for job %s", bidID, jobID)
			}
			return fmt.Errorf("failed to get bid status: %w", err)
		}
		if bidStatus != domain.BidSelected {
			return domain.Conflictf("bid %s is not the selected bid", bidID)
		}

		now := time.Now()

		if accepted {
			_, err = tx.ExecContext(ctx,
				`UPDATE jobs SET status = $2, assigned_to = $3, updated_at = $4 WHERE job_id = $1`,
				jobID, domain.StatusReadyToStart, workerID, now,
			)
			if err != nil {
				return fmt.Errorf("failed to assign worker: %w", err)
			}
			job.Status = domain.StatusReadyToStart
			job.AssignedTo = &workerID
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE bids SET status = $2, updated_at = $3 WHERE bid_id = $1`,
				bidID, domain.BidRejected, now,
			)
			if err != nil {
				return fmt.Errorf("failed to reject bid: %w", err)
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE jobs SET status = $2, updated_at = $3 WHERE job_id = $1`,
				jobID, domain.StatusOpenForBids, now,
			)
			if err != nil {
				return fmt.Errorf("failed to re-open job: %w", err)
			}
			job.Status = domain.StatusOpenForBids
		}

		job.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}
