package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/taskbid/taskbid-backend/internal/domain"
)

// AppendFailedSync records a failed geo-index write. While a record for the
// same (job_id, operation) pair is still unresolved, the failure is merged
// into it instead of inserting a duplicate.
func (s *Storage) AppendFailedSync(ctx context.Context, rec *domain.FailedGeoSync) error {
	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE failed_geo_syncs
		SET last_error = $3, latitude = $4, longitude = $5, updated_at = $6
		WHERE job_id = $1 AND operation = $2 AND resolved = FALSE
	`, rec.JobID, rec.Operation, rec.LastError, rec.Latitude, rec.Longitude, now)
	if err != nil {
		return fmt.Errorf("failed to merge failed geo sync: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO failed_geo_syncs (
			job_id, operation, latitude, longitude, retry_count, resolved, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, FALSE, $5, $6, $6)
	`, rec.JobID, rec.Operation, rec.Latitude, rec.Longitude, rec.LastError, now)
	if err != nil {
		return fmt.Errorf("failed to insert failed geo sync: %w", err)
	}
	return nil
}

// ListUnresolvedFailedSyncs returns unresolved records below the retry
// ceiling, oldest first.
func (s *Storage) ListUnresolvedFailedSyncs(ctx context.Context, maxRetries, limit int) ([]domain.FailedGeoSync, error) {
	var recs []domain.FailedGeoSync
	query := `
		SELECT id, job_id, operation, latitude, longitude, retry_count, resolved, last_error, created_at, updated_at
		FROM failed_geo_syncs
		WHERE resolved = FALSE AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	if err := s.db.SelectContext(ctx, &recs, query, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to list failed geo syncs: %w", err)
	}
	return recs, nil
}

// MarkFailedSyncResolved flags a record as healed. Records are kept as an
// audit trail, never deleted. Resolving twice is a no-op.
func (s *Storage) MarkFailedSyncResolved(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE failed_geo_syncs
		SET resolved = TRUE, updated_at = $2
		WHERE id = $1 AND resolved = FALSE
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark geo sync resolved: %w", err)
	}
	return nil
}

// BumpFailedSyncRetry increments the retry counter and records the latest
// error after an unsuccessful retry.
func (s *Storage) BumpFailedSyncRetry(ctx context.Context, id int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE failed_geo_syncs
		SET retry_count = retry_count + 1, last_error = $2, updated_at = $3
		WHERE id = $1
	`, id, lastError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to bump geo sync retry: %w", err)
	}
	return nil
}
