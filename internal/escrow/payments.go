package escrow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
)

// LockEscrow records the client's funds as held for an assigned job. At
// most one non-released transaction may exist per job. The gateway charge
// itself is an external capability; this is the authoritative ledger row.
func (s *Service) LockEscrow(ctx context.Context, jobID, clientID string, amount int64) (*domain.PaymentTransaction, error) {
	if amount <= 0 {
		return nil, domain.Validationf("escrow amount must be positive")
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != clientID {
		return nil, domain.Forbiddenf("only the job owner may lock escrow for job %s", jobID)
	}
	if job.Status != domain.StatusReadyToStart && job.Status != domain.StatusInProgress {
		return nil, domain.Conflictf("job %s has no assigned worker to escrow for", jobID)
	}
	if job.AssignedTo == nil {
		return nil, domain.Conflictf("job %s has no assigned worker", jobID)
	}

	if _, err := s.store.GetActivePayment(ctx, jobID); err == nil {
		return nil, domain.Conflictf("job %s already has an active payment", jobID)
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	now := s.now()
	tr := &domain.PaymentTransaction{
		TransactionID: uuid.New().String(),
		JobID:         jobID,
		ClientID:      clientID,
		WorkerID:      *job.AssignedTo,
		Amount:        amount,
		Status:        domain.PaymentEscrowLocked,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreatePayment(ctx, tr); err != nil {
		return nil, err
	}

	s.logger.Info("Escrow locked",
		slog.String("job_id", jobID),
		slog.String("transaction_id", tr.TransactionID),
		slog.Int64("amount", amount),
	)
	return tr, nil
}

// ReleasePayment pays the worker out of escrow once the release code has
// been verified, and closes the job as COMPLETED.
func (s *Service) ReleasePayment(ctx context.Context, jobID, clientID string) (*domain.PaymentTransaction, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != clientID {
		return nil, domain.Forbiddenf("only the job owner may release payment for job %s", jobID)
	}
	if job.Status != domain.StatusCompletedPending {
		return nil, domain.Conflictf("job %s is not pending payment", jobID)
	}

	code, err := s.store.GetCode(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if code.Status != domain.CodeCompleted {
		return nil, domain.Conflictf("release code for job %s has not been verified", jobID)
	}

	tr, err := s.store.GetActivePayment(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if tr.Status != domain.PaymentEscrowLocked {
		return nil, domain.Conflictf("payment %s is not escrow-locked", tr.TransactionID)
	}

	if err := s.store.UpdatePaymentStatus(ctx, tr.TransactionID, domain.PaymentEscrowLocked, domain.PaymentReleased); err != nil {
		return nil, err
	}
	tr.Status = domain.PaymentReleased

	if err := s.store.UpdateJobStatus(ctx, jobID, domain.StatusCompletedPending, domain.StatusCompleted); err != nil {
		return nil, err
	}

	s.logger.Info("Payment released",
		slog.String("job_id", jobID),
		slog.String("transaction_id", tr.TransactionID),
	)

	s.bus.PublishJobModified(event.JobModified{
		JobID:     jobID,
		OwnerID:   job.CreatedBy,
		ActorID:   clientID,
		Type:      event.TypeStatusChanged,
		OldStatus: domain.StatusCompletedPending,
		NewStatus: domain.StatusCompleted,
	})
	return tr, nil
}
