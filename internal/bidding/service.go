// Package bidding implements the bid state machine and the exactly-one-
// winner selection protocol over all bids of a job.
package bidding

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
)

// Store is the slice of the relational store the bid protocol needs. The
// Exclusive methods run their read-modify-write inside one transaction
// holding a row lock on the job.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetBid(ctx context.Context, bidID string) (*domain.Bid, error)
	CreateBid(ctx context.Context, bid *domain.Bid) error
	HasBid(ctx context.Context, jobID, workerID string) (bool, error)
	WorkerOnDuty(ctx context.Context, workerID string) (bool, error)
	GetAddress(ctx context.Context, addressID string) (*domain.Address, error)
	AcceptBidExclusive(ctx context.Context, jobID, bidID string) (*domain.Job, error)
	CompleteHandshakeExclusive(ctx context.Context, jobID, bidID, workerID string, accepted bool) (*domain.Job, error)
}

// Publisher is the post-commit event sink.
type Publisher interface {
	PublishJobModified(e event.JobModified)
}

// Service runs bid placement, selection and the handshake.
type Service struct {
	store  Store
	bus    Publisher
	logger *slog.Logger

	// Duplicate-bid pre-check. A negative answer is definitive ("no prior
	// bid"), a positive answer is confirmed against the store; confirmed
	// false positives are counted for observability only.
	mu             sync.Mutex
	seen           *bloom.BloomFilter
	falsePositives atomic.Int64
}

// NewService creates the bidding service. capacity and fpRate size the
// duplicate-bid bloom filter.
func NewService(store Store, bus Publisher, logger *slog.Logger, capacity uint, fpRate float64) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
		seen:   bloom.NewWithEstimates(capacity, fpRate),
	}
}

func bidKey(jobID, workerID string) []byte {
	return []byte(jobID + "|" + workerID)
}

// FalsePositives reports how many bloom pre-checks were confirmed false
// positives by the authoritative lookup.
func (s *Service) FalsePositives() int64 {
	return s.falsePositives.Load()
}

// PlaceBid records a new PENDING bid by an on-duty worker on an open job.
// Each worker may bid once per job.
func (s *Service) PlaceBid(ctx context.Context, jobID, workerID string, amount int64) (*domain.Bid, error) {
	if amount <= 0 {
		return nil, domain.Validationf("bid amount must be positive")
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusOpenForBids {
		return nil, domain.Conflictf("job %s is not open for bids", jobID)
	}

	onDuty, err := s.store.WorkerOnDuty(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !onDuty {
		return nil, domain.Conflictf("worker %s is not on duty", workerID)
	}

	key := bidKey(jobID, workerID)
	s.mu.Lock()
	maybeSeen := s.seen.Test(key)
	s.mu.Unlock()

	if maybeSeen {
		// Possibly present: resolve against the store.
		exists, err := s.store.HasBid(ctx, jobID, workerID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domain.Conflictf("worker %s already bid on job %s", workerID, jobID)
		}

		s.falsePositives.Add(1)
		s.logger.Debug("Duplicate-bid pre-check false positive",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
			slog.Int64("total", s.falsePositives.Load()),
		)
	}

	now := time.Now()
	bid := &domain.Bid{
		BidID:     uuid.New().String(),
		JobID:     jobID,
		WorkerID:  workerID,
		Amount:    amount,
		Status:    domain.BidPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateBid(ctx, bid); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seen.Add(key)
	s.mu.Unlock()

	s.logger.Info("Bid placed",
		slog.String("bid_id", bid.BidID),
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return bid, nil
}

// AcceptBid selects one bid on behalf of the job owner and atomically
// rejects every other pending bid; the job advances to
// BID_SELECTED_AWAITING_HANDSHAKE.
func (s *Service) AcceptBid(ctx context.Context, bidID, clientID string) (*domain.Bid, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(ctx, bid.JobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != clientID {
		return nil, domain.Forbiddenf("only the job owner may accept bids on job %s", job.JobID)
	}
	if job.Status != domain.StatusOpenForBids {
		return nil, domain.Conflictf("job %s is not open for bids", job.JobID)
	}

	// Re-validated under the job row lock; the pre-checks above only give
	// callers fast errors outside the transaction.
	updatedJob, err := s.store.AcceptBidExclusive(ctx, bid.JobID, bidID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bid accepted",
		slog.String("bid_id", bidID),
		slog.String("job_id", job.JobID),
		slog.String("worker_id", bid.WorkerID),
	)

	s.bus.PublishJobModified(event.JobModified{
		JobID:     updatedJob.JobID,
		OwnerID:   updatedJob.CreatedBy,
		ActorID:   clientID,
		Type:      event.TypeStatusChanged,
		OldStatus: domain.StatusOpenForBids,
		NewStatus: updatedJob.Status,
	})

	bid.Status = domain.BidSelected
	return bid, nil
}

// Handshake records the worker's accept/reject of a selected bid.
// Accepting assigns the worker and readies the job to start; rejecting
// re-opens the job for bidding (rather than stranding it without a
// selected bid).
func (s *Service) Handshake(ctx context.Context, bidID, workerID string, accepted bool) (*domain.Job, error) {
	bid, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.WorkerID != workerID {
		return nil, domain.Forbiddenf("only the bid's worker may complete the handshake")
	}

	job, err := s.store.CompleteHandshakeExclusive(ctx, bid.JobID, bidID, workerID, accepted)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Handshake completed",
		slog.String("bid_id", bidID),
		slog.String("job_id", job.JobID),
		slog.Bool("accepted", accepted),
	)

	e := event.JobModified{
		JobID:     job.JobID,
		OwnerID:   job.CreatedBy,
		ActorID:   workerID,
		Type:      event.TypeStatusChanged,
		OldStatus: domain.StatusBidSelected,
		NewStatus: job.Status,
	}

	// A rejected handshake puts the job back into the bidding pool, so the
	// geo index needs its coordinates again.
	if job.Status == domain.StatusOpenForBids {
		if addr, err := s.store.GetAddress(ctx, job.AddressID); err == nil {
			e.Latitude = addr.Latitude
			e.Longitude = addr.Longitude
		} else {
			s.logger.Warn("Failed to resolve address after handshake rejection",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
	}

	s.bus.PublishJobModified(e)
	return job, nil
}
