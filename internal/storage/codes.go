package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskbid/taskbid-backend/internal/domain"
)

// GetCode loads the confirmation-code row for a job.
func (s *Storage) GetCode(ctx context.Context, jobID string) (*domain.ConfirmationCode, error) {
	var code domain.ConfirmationCode
	query := `
		SELECT job_id, start_code, release_code, status,
		       start_attempts, release_attempts, generated_at, expires_at
		FROM confirmation_codes
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &code, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("no confirmation code for job %s", jobID)
		}
		return nil, fmt.Errorf("failed to get confirmation code: %w", err)
	}
	return &code, nil
}

// CreateCode inserts the one-per-job confirmation-code row. A duplicate
// insert (concurrent generate) surfaces as a conflict via the primary key.
func (s *Storage) CreateCode(ctx context.Context, code *domain.ConfirmationCode) error {
	query := `
		INSERT INTO confirmation_codes (
			job_id, start_code, release_code, status,
			start_attempts, release_attempts, generated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		code.JobID,
		code.StartCode,
		code.ReleaseCode,
		code.Status,
		code.StartAttempts,
		code.ReleaseAttempts,
		code.GeneratedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create confirmation code: %w", err)
	}
	return nil
}

// UpdateCode persists the full mutable state of a confirmation-code row.
func (s *Storage) UpdateCode(ctx context.Context, code *domain.ConfirmationCode) error {
	query := `
		UPDATE confirmation_codes
		SET start_code = $2, release_code = $3, status = $4,
		    start_attempts = $5, release_attempts = $6,
		    generated_at = $7, expires_at = $8
		WHERE job_id = $1
	`

	res, err := s.db.ExecContext(
		ctx,
		query,
		code.JobID,
		code.StartCode,
		code.ReleaseCode,
		code.Status,
		code.StartAttempts,
		code.ReleaseAttempts,
		code.GeneratedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update confirmation code: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("no confirmation code for job %s", code.JobID)
	}
	return nil
}

// GetActivePayment returns the single non-released transaction for a job,
// or a not-found error.
func (s *Storage) GetActivePayment(ctx context.Context, jobID string) (*domain.PaymentTransaction, error) {
	var tr domain.PaymentTransaction
	query := `
		SELECT transaction_id, job_id, client_id, worker_id, amount, status, created_at, updated_at
		FROM payment_transactions
		WHERE job_id = $1 AND status != $2
	`

	err := s.db.GetContext(ctx, &tr, query, jobID, domain.PaymentReleased)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("no active payment for job %s", jobID)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &tr, nil
}

// CreatePayment inserts a new escrow ledger row.
func (s *Storage) CreatePayment(ctx context.Context, tr *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (
			transaction_id, job_id, client_id, worker_id, amount, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		tr.TransactionID,
		tr.JobID,
		tr.ClientID,
		tr.WorkerID,
		tr.Amount,
		tr.Status,
		tr.CreatedAt,
		tr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// UpdatePaymentStatus moves a payment from → to with compare-and-set
// semantics.
func (s *Storage) UpdatePaymentStatus(ctx context.Context, transactionID string, from, to domain.PaymentStatus) error {
	query := `
		UPDATE payment_transactions
		SET status = $3, updated_at = $4
		WHERE transaction_id = $1 AND status = $2
	`

	res, err := s.db.ExecContext(ctx, query, transactionID, from, to, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domain.Conflictf("payment %s is no longer %s", transactionID, from)
	}
	return nil
}
