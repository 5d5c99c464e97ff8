package bidding_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbid/taskbid-backend/internal/bidding"
	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
)

// fakeStore emulates the relational store. The mutex stands in for the job
// row lock the Exclusive methods take in SQL, which is what makes the
// concurrent selection test below meaningful.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	bids      map[string]*domain.Bid
	onDuty    map[string]bool
	addresses map[string]*domain.Address
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[string]*domain.Job),
		bids:      make(map[string]*domain.Bid),
		onDuty:    make(map[string]bool),
		addresses: make(map[string]*domain.Address),
	}
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) GetBid(_ context.Context, bidID string) (*domain.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bid, ok := f.bids[bidID]
	if !ok {
		return nil, domain.NotFoundf("bid %s not found", bidID)
	}
	cp := *bid
	return &cp, nil
}

func (f *fakeStore) CreateBid(_ context.Context, bid *domain.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bids {
		if b.JobID == bid.JobID && b.WorkerID == bid.WorkerID {
			return domain.Conflictf("worker %s already bid on job %s", bid.WorkerID, bid.JobID)
		}
	}
	cp := *bid
	f.bids[bid.BidID] = &cp
	return nil
}

func (f *fakeStore) HasBid(_ context.Context, jobID, workerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bids {
		if b.JobID == jobID && b.WorkerID == workerID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) WorkerOnDuty(_ context.Context, workerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onDuty[workerID], nil
}

func (f *fakeStore) GetAddress(_ context.Context, addressID string) (*domain.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.addresses[addressID]
	if !ok {
		return nil, domain.NotFoundf("address %s not found", addressID)
	}
	return addr, nil
}

func (f *fakeStore) AcceptBidExclusive(_ context.Context, jobID, bidID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	if job.Status != domain.StatusOpenForBids {
		return nil, domain.Conflictf("job %s is not open for bids", jobID)
	}

	bid, ok := f.bids[bidID]
	if !ok || bid.JobID != jobID {
		return nil, domain.NotFoundf("bid %s not found", bidID)
	}
	if bid.Status != domain.BidPending {
		return nil, domain.Conflictf("bid %s is not pending", bidID)
	}

	bid.Status = domain.BidSelected
	for _, other := range f.bids {
		if other.JobID == jobID && other.BidID != bidID && other.Status == domain.BidPending {
			other.Status = domain.BidRejected
		}
	}
	job.Status = domain.StatusBidSelected

	cp := *job
	return &cp, nil
}

func (f *fakeStore) CompleteHandshakeExclusive(_ context.Context, jobID, bidID, workerID string, accepted bool) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	if job.Status != domain.StatusBidSelected {
		return nil, domain.Conflictf("job %s is not awaiting a handshake", jobID)
	}

	bid, ok := f.bids[bidID]
	if !ok || bid.Status != domain.BidSelected {
		return nil, domain.Conflictf("bid %s is not the selected bid", bidID)
	}

	if accepted {
		job.AssignedTo = &workerID
		job.Status = domain.StatusReadyToStart
	} else {
		bid.Status = domain.BidRejected
		job.Status = domain.StatusOpenForBids
	}

	cp := *job
	return &cp, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event.JobModified
}

func (f *fakePublisher) PublishJobModified(e event.JobModified) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *fakeStore
	bus   *fakePublisher
	svc   *bidding.Service

	clientID string
	jobID    string
}

func newFixture() *fixture {
	f := &fixture{
		store:    newFakeStore(),
		bus:      &fakePublisher{},
		clientID: uuid.New().String(),
		jobID:    uuid.New().String(),
	}
	f.svc = bidding.NewService(f.store, f.bus, testLogger(), 10000, 0.01)

	lat, lon := 52.52, 13.405
	addrID := uuid.New().String()
	f.store.addresses[addrID] = &domain.Address{AddressID: addrID, Latitude: &lat, Longitude: &lon}
	f.store.jobs[f.jobID] = &domain.Job{
		JobID:     f.jobID,
		Title:     "Assemble wardrobe",
		Status:    domain.StatusOpenForBids,
		AddressID: addrID,
		Price:     500,
		CreatedBy: f.clientID,
	}
	return f
}

func (f *fixture) newWorker() string {
	id := uuid.New().String()
	f.store.onDuty[id] = true
	return id
}

func TestPlaceBid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	bid, err := f.svc.PlaceBid(ctx, f.jobID, worker, 450)
	require.NoError(t, err)
	assert.Equal(t, domain.BidPending, bid.Status)
	assert.Equal(t, int64(450), bid.Amount)
	assert.Equal(t, worker, bid.WorkerID)
}

func TestPlaceBid_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := f.svc.PlaceBid(ctx, f.jobID, worker, 0)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := f.svc.PlaceBid(ctx, uuid.New().String(), worker, 100)
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})

	t.Run("job not open", func(t *testing.T) {
		f.store.jobs[f.jobID].Status = domain.StatusBidSelected
		defer func() { f.store.jobs[f.jobID].Status = domain.StatusOpenForBids }()

		_, err := f.svc.PlaceBid(ctx, f.jobID, worker, 100)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("worker off duty", func(t *testing.T) {
		offDuty := uuid.New().String()
		_, err := f.svc.PlaceBid(ctx, f.jobID, offDuty, 100)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("duplicate bid", func(t *testing.T) {
		_, err := f.svc.PlaceBid(ctx, f.jobID, worker, 100)
		require.NoError(t, err)

		_, err = f.svc.PlaceBid(ctx, f.jobID, worker, 120)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})
}

// TestPlaceBid_PreCheckFalsePositive forces the duplicate pre-check to
// answer "maybe" for a pair that is not in the store, and verifies the
// authoritative lookup wins and the false positive is counted.
func TestPlaceBid_PreCheckFalsePositive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	bid, err := f.svc.PlaceBid(ctx, f.jobID, worker, 100)
	require.NoError(t, err)

	// Drop the bid behind the filter's back; the filter still remembers
	// the (job, worker) pair.
	f.store.mu.Lock()
	delete(f.store.bids, bid.BidID)
	f.store.mu.Unlock()

	_, err = f.svc.PlaceBid(ctx, f.jobID, worker, 110)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.svc.FalsePositives())
}

func TestAcceptBid_SelectsOneAndRejectsRest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	workerA := f.newWorker()
	workerB := f.newWorker()

	bidA, err := f.svc.PlaceBid(ctx, f.jobID, workerA, 450)
	require.NoError(t, err)
	bidB, err := f.svc.PlaceBid(ctx, f.jobID, workerB, 500)
	require.NoError(t, err)

	accepted, err := f.svc.AcceptBid(ctx, bidB.BidID, f.clientID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidSelected, accepted.Status)

	assert.Equal(t, domain.BidSelected, f.store.bids[bidB.BidID].Status)
	assert.Equal(t, domain.BidRejected, f.store.bids[bidA.BidID].Status)
	assert.Equal(t, domain.StatusBidSelected, f.store.jobs[f.jobID].Status)

	require.Len(t, f.bus.events, 1)
	e := f.bus.events[0]
	assert.Equal(t, event.TypeStatusChanged, e.Type)
	assert.Equal(t, domain.StatusOpenForBids, e.OldStatus)
	assert.Equal(t, domain.StatusBidSelected, e.NewStatus)
	assert.True(t, e.ExitedOpenForBids())
}

func TestAcceptBid_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	bid, err := f.svc.PlaceBid(ctx, f.jobID, worker, 450)
	require.NoError(t, err)

	t.Run("non-owner forbidden", func(t *testing.T) {
		_, err := f.svc.AcceptBid(ctx, bid.BidID, uuid.New().String())
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("unknown bid", func(t *testing.T) {
		_, err := f.svc.AcceptBid(ctx, uuid.New().String(), f.clientID)
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})

	t.Run("job already decided", func(t *testing.T) {
		_, err := f.svc.AcceptBid(ctx, bid.BidID, f.clientID)
		require.NoError(t, err)

		_, err = f.svc.AcceptBid(ctx, bid.BidID, f.clientID)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})
}

// TestAcceptBid_ConcurrentSingleWinner races one acceptance per bid and
// checks that exactly one wins, every loser gets a conflict, and the
// store ends with exactly one SELECTED bid and zero PENDING bids.
func TestAcceptBid_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const workers = 16
	bidIDs := make([]string, 0, workers)
	for i := 0; i < workers; i++ {
		bid, err := f.svc.PlaceBid(ctx, f.jobID, f.newWorker(), int64(100+i))
		require.NoError(t, err)
		bidIDs = append(bidIDs, bid.BidID)
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i, bidID := range bidIDs {
		wg.Add(1)
		go func(i int, bidID string) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptBid(ctx, bidID, f.clientID)
		}(i, bidID)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	selected, pending := 0, 0
	for _, b := range f.store.bids {
		switch b.Status {
		case domain.BidSelected:
			selected++
		case domain.BidPending:
			pending++
		}
	}
	assert.Equal(t, 1, selected)
	assert.Equal(t, 0, pending)
	assert.Equal(t, domain.StatusBidSelected, f.store.jobs[f.jobID].Status)

	f.bus.mu.Lock()
	defer f.bus.mu.Unlock()
	assert.Len(t, f.bus.events, 1)
}

func TestHandshake_Accepted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	bid, err := f.svc.PlaceBid(ctx, f.jobID, worker, 500)
	require.NoError(t, err)
	_, err = f.svc.AcceptBid(ctx, bid.BidID, f.clientID)
	require.NoError(t, err)
	f.bus.events = nil

	job, err := f.svc.Handshake(ctx, bid.BidID, worker, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReadyToStart, job.Status)
	require.NotNil(t, job.AssignedTo)
	assert.Equal(t, worker, *job.AssignedTo)

	require.Len(t, f.bus.events, 1)
	assert.Equal(t, domain.StatusReadyToStart, f.bus.events[0].NewStatus)
	assert.Nil(t, f.bus.events[0].Latitude)
}

func TestHandshake_RejectedReopensJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	bid, err := f.svc.PlaceBid(ctx, f.jobID, worker, 500)
	require.NoError(t, err)
	_, err = f.svc.AcceptBid(ctx, bid.BidID, f.clientID)
	require.NoError(t, err)
	f.bus.events = nil

	job, err := f.svc.Handshake(ctx, bid.BidID, worker, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpenForBids, job.Status)
	assert.Nil(t, job.AssignedTo)
	assert.Equal(t, domain.BidRejected, f.store.bids[bid.BidID].Status)

	// Re-entering the pool must carry coordinates for the geo index.
	require.Len(t, f.bus.events, 1)
	e := f.bus.events[0]
	assert.True(t, e.EnteredOpenForBids())
	require.NotNil(t, e.Latitude)
	assert.InDelta(t, 52.52, *e.Latitude, 1e-9)
}

// TestHandshake_ReselectionAfterReopen runs a full re-open cycle: reject
// the handshake, bid again, accept again. The job must never carry more
// than one SELECTED bid along the way.
func TestHandshake_ReselectionAfterReopen(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	workerA := f.newWorker()
	workerB := f.newWorker()

	bidA, err := f.svc.PlaceBid(ctx, f.jobID, workerA, 450)
	require.NoError(t, err)
	_, err = f.svc.AcceptBid(ctx, bidA.BidID, f.clientID)
	require.NoError(t, err)

	job, err := f.svc.Handshake(ctx, bidA.BidID, workerA, false)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpenForBids, job.Status)

	bidB, err := f.svc.PlaceBid(ctx, f.jobID, workerB, 500)
	require.NoError(t, err)
	_, err = f.svc.AcceptBid(ctx, bidB.BidID, f.clientID)
	require.NoError(t, err)

	selected := 0
	for _, b := range f.store.bids {
		if b.Status == domain.BidSelected {
			selected++
		}
	}
	assert.Equal(t, 1, selected, "at most one SELECTED bid per job")
	assert.Equal(t, domain.BidRejected, f.store.bids[bidA.BidID].Status)
	assert.Equal(t, domain.BidSelected, f.store.bids[bidB.BidID].Status)
	assert.Equal(t, domain.StatusBidSelected, f.store.jobs[f.jobID].Status)
}

func TestHandshake_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	worker := f.newWorker()

	bid, err := f.svc.PlaceBid(ctx, f.jobID, worker, 500)
	require.NoError(t, err)

	t.Run("wrong worker", func(t *testing.T) {
		_, err := f.svc.Handshake(ctx, bid.BidID, uuid.New().String(), true)
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("bid not selected yet", func(t *testing.T) {
		_, err := f.svc.Handshake(ctx, bid.BidID, worker, true)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})
}
