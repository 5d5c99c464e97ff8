// Package escrow generates and verifies the one-time confirmation codes
// gating work start and payment release, and advances the job status as a
// side effect of successful verification.
package escrow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
)

// Store is the slice of the relational store the escrow gate needs.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error
	GetCode(ctx context.Context, jobID string) (*domain.ConfirmationCode, error)
	CreateCode(ctx context.Context, code *domain.ConfirmationCode) error
	UpdateCode(ctx context.Context, code *domain.ConfirmationCode) error
	GetActivePayment(ctx context.Context, jobID string) (*domain.PaymentTransaction, error)
	CreatePayment(ctx context.Context, tr *domain.PaymentTransaction) error
	UpdatePaymentStatus(ctx context.Context, transactionID string, from, to domain.PaymentStatus) error
}

// Publisher is the post-commit event sink.
type Publisher interface {
	PublishJobModified(e event.JobModified)
}

// Config tunes code lifetime and lockout.
type Config struct {
	CodeTTL            time.Duration // default 30m
	MaxAttempts        int           // default 3
	RegenerateInterval time.Duration // default 1m
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = 30 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RegenerateInterval <= 0 {
		c.RegenerateInterval = time.Minute
	}
	return c
}

// Service is the escrow payment gate.
type Service struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
	cfg    Config

	now func() time.Time // test hook
}

// NewService creates the escrow gate.
func NewService(store Store, bus Publisher, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// newCode draws a uniform 6-digit code from a cryptographically secure
// source.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateCodes creates the start/release code pair for a job, or returns
// the existing pair (generation is idempotent).
func (s *Service) GenerateCodes(ctx context.Context, jobID, clientID string) (*domain.ConfirmationCode, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != clientID {
		return nil, domain.Forbiddenf("only the job owner may generate codes for job %s", jobID)
	}
	if job.Status != domain.StatusBidSelected && job.Status != domain.StatusReadyToStart {
		return nil, domain.Conflictf("job %s is not awaiting work start", jobID)
	}

	if existing, err := s.store.GetCode(ctx, jobID); err == nil {
		return existing, nil
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	startCode, err := newCode()
	if err != nil {
		return nil, err
	}
	releaseCode, err := newCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	code := &domain.ConfirmationCode{
		JobID:       jobID,
		StartCode:   startCode,
		ReleaseCode: releaseCode,
		Status:      domain.CodeStartPending,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.cfg.CodeTTL),
	}

	if err := s.store.CreateCode(ctx, code); err != nil {
		return nil, err
	}

	s.logger.Info("Confirmation codes generated",
		slog.String("job_id", jobID),
	)
	return code, nil
}

// RegenerateCodes issues fresh codes and resets the attempt counters,
// rate-limited to once per minute per job. The start code is only
// regenerated while still unverified.
func (s *Service) RegenerateCodes(ctx context.Context, jobID, clientID string) (*domain.ConfirmationCode, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != clientID {
		return nil, domain.Forbiddenf("only the job owner may regenerate codes for job %s", jobID)
	}

	code, err := s.store.GetCode(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if code.Status == domain.CodeCompleted {
		return nil, domain.Conflictf("codes for job %s are already consumed", jobID)
	}

	now := s.now()
	if now.Sub(code.GeneratedAt) < s.cfg.RegenerateInterval {
		return nil, domain.Conflictf("codes for job %s were regenerated too recently", jobID)
	}

	if code.Status == domain.CodeStartPending {
		startCode, err := newCode()
		if err != nil {
			return nil, err
		}
		code.StartCode = startCode
	}

	releaseCode, err := newCode()
	if err != nil {
		return nil, err
	}
	code.ReleaseCode = releaseCode
	code.StartAttempts = 0
	code.ReleaseAttempts = 0
	code.GeneratedAt = now
	code.ExpiresAt = now.Add(s.cfg.CodeTTL)

	if err := s.store.UpdateCode(ctx, code); err != nil {
		return nil, err
	}

	s.logger.Info("Confirmation codes regenerated",
		slog.String("job_id", jobID),
	)
	return code, nil
}

// VerifyStartCode checks the worker-submitted start code. Success advances
// the job to IN_PROGRESS; a wrong code burns an attempt until lockout.
func (s *Service) VerifyStartCode(ctx context.Context, jobID, workerID, submitted string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.AssignedTo == nil || *job.AssignedTo != workerID {
		return domain.Forbiddenf("only the assigned worker may verify the start code")
	}
	if job.Status != domain.StatusReadyToStart {
		return domain.Conflictf("job %s is not ready to start", jobID)
	}

	code, err := s.store.GetCode(ctx, jobID)
	if err != nil {
		return err
	}
	if code.Status != domain.CodeStartPending {
		return domain.Conflictf("start code for job %s is already consumed", jobID)
	}

	if err := s.checkSubmission(ctx, code, code.StartCode, submitted, &code.StartAttempts, "start"); err != nil {
		return err
	}

	code.StartAttempts = 0
	code.Status = domain.CodeReleasePending
	if err := s.store.UpdateCode(ctx, code); err != nil {
		return err
	}

	if err := s.store.UpdateJobStatus(ctx, jobID, domain.StatusReadyToStart, domain.StatusInProgress); err != nil {
		// The job raced into another status (cancellation) between the code
		// check and the CAS. Put the start code back so the pair does not
		// read as consumed for a start that never happened.
		if domain.IsKind(err, domain.KindConflict) {
			code.Status = domain.CodeStartPending
			if uerr := s.store.UpdateCode(ctx, code); uerr != nil {
				s.logger.Error("Failed to restore start code after lost transition",
					slog.String("job_id", jobID),
					slog.Any("error", uerr),
				)
			}
		}
		return err
	}

	s.logger.Info("Start code verified, work started",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	s.bus.PublishJobModified(event.JobModified{
		JobID:     jobID,
		OwnerID:   job.CreatedBy,
		ActorID:   workerID,
		Type:      event.TypeStatusChanged,
		OldStatus: domain.StatusReadyToStart,
		NewStatus: domain.StatusInProgress,
	})
	return nil
}

// VerifyReleaseCode checks the client-submitted release code. Success
// completes the code pair and moves the job to COMPLETED_PENDING_PAYMENT,
// authorizing the payment release.
func (s *Service) VerifyReleaseCode(ctx context.Context, jobID, clientID, submitted string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.CreatedBy != clientID {
		return domain.Forbiddenf("only the job owner may verify the release code")
	}
	if job.Status != domain.StatusInProgress && job.Status != domain.StatusCompletedPending {
		return domain.Conflictf("job %s is not in progress", jobID)
	}

	code, err := s.store.GetCode(ctx, jobID)
	if err != nil {
		return err
	}
	if code.Status != domain.CodeReleasePending {
		return domain.Conflictf("release code for job %s is not pending", jobID)
	}

	if err := s.checkSubmission(ctx, code, code.ReleaseCode, submitted, &code.ReleaseAttempts, "release"); err != nil {
		return err
	}

	code.ReleaseAttempts = 0
	code.Status = domain.CodeCompleted
	if err := s.store.UpdateCode(ctx, code); err != nil {
		return err
	}

	if job.Status == domain.StatusInProgress {
		if err := s.store.UpdateJobStatus(ctx, jobID, domain.StatusInProgress, domain.StatusCompletedPending); err != nil {
			return err
		}

		s.bus.PublishJobModified(event.JobModified{
			JobID:     jobID,
			OwnerID:   job.CreatedBy,
			ActorID:   clientID,
			Type:      event.TypeStatusChanged,
			OldStatus: domain.StatusInProgress,
			NewStatus: domain.StatusCompletedPending,
		})
	}

	s.logger.Info("Release code verified, payment release authorized",
		slog.String("job_id", jobID),
	)
	return nil
}

// checkSubmission enforces expiry, lockout and the attempt counter shared
// by both verification paths. On a wrong code the counter is persisted
// before the error returns.
func (s *Service) checkSubmission(ctx context.Context, code *domain.ConfirmationCode, expected, submitted string, attempts *int, which string) error {
	if code.Expired(s.now()) {
		return domain.Conflictf("%s code expired, regenerate to continue", which)
	}
	if *attempts >= s.cfg.MaxAttempts {
		return domain.Conflictf("%s code locked after %d failed attempts, regenerate to continue", which, s.cfg.MaxAttempts)
	}

	if !codesEqual(expected, submitted) {
		*attempts++
		if err := s.store.UpdateCode(ctx, code); err != nil {
			return err
		}

		remaining := s.cfg.MaxAttempts - *attempts
		if remaining == 0 {
			return domain.Conflictf("invalid %s code, verification locked", which)
		}
		return domain.Validationf("invalid %s code, %d attempts remaining", which, remaining)
	}
	return nil
}
