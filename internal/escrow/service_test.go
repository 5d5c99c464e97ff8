package escrow

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbid/taskbid-backend/internal/domain"
	"github.com/taskbid/taskbid-backend/internal/event"
)

type fakeStore struct {
	jobs     map[string]*domain.Job
	codes    map[string]*domain.ConfirmationCode
	payments map[string]*domain.PaymentTransaction

	// statusRace, when set, makes the next UpdateJobStatus lose its
	// compare-and-set as if a concurrent transition won.
	statusRace bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]*domain.Job),
		codes:    make(map[string]*domain.ConfirmationCode),
		payments: make(map[string]*domain.PaymentTransaction),
	}
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.NotFoundf("job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID string, from, to domain.JobStatus) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.NotFoundf("job %s not found", jobID)
	}
	if f.statusRace {
		f.statusRace = false
		job.Status = domain.StatusCancelled
	}
	if job.Status != from {
		return domain.Conflictf("job %s is no longer %s", jobID, from)
	}
	job.Status = to
	return nil
}

func (f *fakeStore) GetCode(_ context.Context, jobID string) (*domain.ConfirmationCode, error) {
	code, ok := f.codes[jobID]
	if !ok {
		return nil, domain.NotFoundf("no codes for job %s", jobID)
	}
	cp := *code
	return &cp, nil
}

func (f *fakeStore) CreateCode(_ context.Context, code *domain.ConfirmationCode) error {
	if _, ok := f.codes[code.JobID]; ok {
		return domain.Conflictf("codes for job %s already exist", code.JobID)
	}
	cp := *code
	f.codes[code.JobID] = &cp
	return nil
}

func (f *fakeStore) UpdateCode(_ context.Context, code *domain.ConfirmationCode) error {
	if _, ok := f.codes[code.JobID]; !ok {
		return domain.NotFoundf("no codes for job %s", code.JobID)
	}
	cp := *code
	f.codes[code.JobID] = &cp
	return nil
}

func (f *fakeStore) GetActivePayment(_ context.Context, jobID string) (*domain.PaymentTransaction, error) {
	for _, tr := range f.payments {
		if tr.JobID == jobID && tr.Status != domain.PaymentReleased {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("no active payment for job %s", jobID)
}

func (f *fakeStore) CreatePayment(_ context.Context, tr *domain.PaymentTransaction) error {
	cp := *tr
	f.payments[tr.TransactionID] = &cp
	return nil
}

func (f *fakeStore) UpdatePaymentStatus(_ context.Context, transactionID string, from, to domain.PaymentStatus) error {
	tr, ok := f.payments[transactionID]
	if !ok {
		return domain.NotFoundf("payment %s not found", transactionID)
	}
	if tr.Status != from {
		return domain.Conflictf("payment %s is no longer %s", transactionID, from)
	}
	tr.Status = to
	return nil
}

type fakePublisher struct {
	events []event.JobModified
}

func (f *fakePublisher) PublishJobModified(e event.JobModified) { f.events = append(f.events, e) }

type fixture struct {
	store *fakeStore
	bus   *fakePublisher
	svc   *Service
	clock time.Time

	clientID string
	workerID string
	jobID    string
}

func newFixture(status domain.JobStatus) *fixture {
	f := &fixture{
		store:    newFakeStore(),
		bus:      &fakePublisher{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		clientID: uuid.New().String(),
		workerID: uuid.New().String(),
		jobID:    uuid.New().String(),
	}
	f.svc = NewService(f.store, f.bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	f.svc.now = func() time.Time { return f.clock }

	job := &domain.Job{
		JobID:     f.jobID,
		Title:     "Paint fence",
		Status:    status,
		Price:     800,
		CreatedBy: f.clientID,
	}
	if status != domain.StatusBidSelected && status != domain.StatusOpenForBids {
		job.AssignedTo = &f.workerID
	}
	f.store.jobs[f.jobID] = job
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) generate(t *testing.T) *domain.ConfirmationCode {
	t.Helper()
	code, err := f.svc.GenerateCodes(context.Background(), f.jobID, f.clientID)
	require.NoError(t, err)
	return code
}

var sixDigits = regexp.MustCompile(`^\d{6}$`)

func TestGenerateCodes(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()

	code := f.generate(t)
	assert.Regexp(t, sixDigits, code.StartCode)
	assert.Regexp(t, sixDigits, code.ReleaseCode)
	assert.Equal(t, domain.CodeStartPending, code.Status)
	assert.Equal(t, f.clock.Add(30*time.Minute), code.ExpiresAt)

	// Idempotent: a second call returns the same pair.
	again, err := f.svc.GenerateCodes(ctx, f.jobID, f.clientID)
	require.NoError(t, err)
	assert.Equal(t, code.StartCode, again.StartCode)
	assert.Equal(t, code.ReleaseCode, again.ReleaseCode)
}

func TestGenerateCodes_Rejections(t *testing.T) {
	t.Run("non-owner forbidden", func(t *testing.T) {
		f := newFixture(domain.StatusReadyToStart)
		_, err := f.svc.GenerateCodes(context.Background(), f.jobID, uuid.New().String())
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("job still open", func(t *testing.T) {
		f := newFixture(domain.StatusOpenForBids)
		_, err := f.svc.GenerateCodes(context.Background(), f.jobID, f.clientID)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture(domain.StatusReadyToStart)
		_, err := f.svc.GenerateCodes(context.Background(), uuid.New().String(), f.clientID)
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})
}

func TestRegenerateCodes(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	t.Run("rate limited", func(t *testing.T) {
		_, err := f.svc.RegenerateCodes(ctx, f.jobID, f.clientID)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("resets codes and counters", func(t *testing.T) {
		// Burn an attempt so the reset is visible.
		err := f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, "000000")
		require.Error(t, err)

		f.advance(2 * time.Minute)
		fresh, err := f.svc.RegenerateCodes(ctx, f.jobID, f.clientID)
		require.NoError(t, err)

		assert.NotEqual(t, code.StartCode, fresh.StartCode)
		assert.NotEqual(t, code.ReleaseCode, fresh.ReleaseCode)
		assert.Zero(t, fresh.StartAttempts)
		assert.Zero(t, fresh.ReleaseAttempts)
		assert.Equal(t, f.clock.Add(30*time.Minute), fresh.ExpiresAt)
	})
}

func TestRegenerateCodes_StartCodeKeptAfterVerification(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode))

	f.advance(2 * time.Minute)
	fresh, err := f.svc.RegenerateCodes(ctx, f.jobID, f.clientID)
	require.NoError(t, err)

	assert.Equal(t, code.StartCode, fresh.StartCode)
	assert.NotEqual(t, code.ReleaseCode, fresh.ReleaseCode)
	assert.Equal(t, domain.CodeReleasePending, fresh.Status)
}

func TestVerifyStartCode(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode))

	assert.Equal(t, domain.StatusInProgress, f.store.jobs[f.jobID].Status)
	assert.Equal(t, domain.CodeReleasePending, f.store.codes[f.jobID].Status)

	require.Len(t, f.bus.events, 1)
	assert.Equal(t, domain.StatusInProgress, f.bus.events[0].NewStatus)

	// Consumed: a second verification conflicts regardless of the code.
	err := f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestVerifyStartCode_Rejections(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	t.Run("unassigned worker forbidden", func(t *testing.T) {
		err := f.svc.VerifyStartCode(ctx, f.jobID, uuid.New().String(), code.StartCode)
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("expired code", func(t *testing.T) {
		f := newFixture(domain.StatusReadyToStart)
		code := f.generate(t)

		f.advance(31 * time.Minute)
		err := f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
		assert.Equal(t, domain.StatusReadyToStart, f.store.jobs[f.jobID].Status)
	})
}

// TestVerifyStartCode_Lockout walks the attempt counter to the boundary:
// two wrong guesses leave one attempt, the third wrong guess locks, and
// from then on even the correct code is refused until regeneration.
func TestVerifyStartCode_Lockout(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	err := f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, "000000")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Contains(t, err.Error(), "2 attempts remaining")

	err = f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, "000000")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Contains(t, err.Error(), "1 attempts remaining")

	err = f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, "000000")
	assert.True(t, domain.IsKind(err, domain.KindConflict))
	assert.Contains(t, err.Error(), "locked")

	err = f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
	assert.Equal(t, domain.StatusReadyToStart, f.store.jobs[f.jobID].Status)

	// Regeneration clears the lockout.
	f.advance(2 * time.Minute)
	fresh, err := f.svc.RegenerateCodes(ctx, f.jobID, f.clientID)
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, fresh.StartCode))
}

// TestVerifyStartCode_LostTransitionKeepsStartPending covers the job being
// cancelled between the code check and the status compare-and-set: the
// verification fails with a conflict and the start code must not read as
// consumed.
func TestVerifyStartCode_LostTransitionKeepsStartPending(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	f.store.statusRace = true
	err := f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	assert.Equal(t, domain.CodeStartPending, f.store.codes[f.jobID].Status)
	assert.Equal(t, domain.StatusCancelled, f.store.jobs[f.jobID].Status)
	assert.Empty(t, f.bus.events)
}

// TestVerifyStartCode_CorrectOnLastAttempt checks that the correct code
// still works when exactly one attempt remains.
func TestVerifyStartCode_CorrectOnLastAttempt(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)

	for i := 0; i < 2; i++ {
		require.Error(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, "000000"))
	}

	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode))
	assert.Equal(t, domain.StatusInProgress, f.store.jobs[f.jobID].Status)
}

func TestVerifyReleaseCode(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)
	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode))
	f.bus.events = nil

	t.Run("non-owner forbidden", func(t *testing.T) {
		err := f.svc.VerifyReleaseCode(ctx, f.jobID, f.workerID, code.ReleaseCode)
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("wrong code burns attempt", func(t *testing.T) {
		err := f.svc.VerifyReleaseCode(ctx, f.jobID, f.clientID, "000000")
		assert.True(t, domain.IsKind(err, domain.KindValidation))
		assert.Equal(t, 1, f.store.codes[f.jobID].ReleaseAttempts)
	})

	t.Run("success completes the pair", func(t *testing.T) {
		require.NoError(t, f.svc.VerifyReleaseCode(ctx, f.jobID, f.clientID, code.ReleaseCode))

		assert.Equal(t, domain.StatusCompletedPending, f.store.jobs[f.jobID].Status)
		assert.Equal(t, domain.CodeCompleted, f.store.codes[f.jobID].Status)
		require.Len(t, f.bus.events, 1)
		assert.Equal(t, domain.StatusCompletedPending, f.bus.events[0].NewStatus)
	})

	t.Run("already completed conflicts", func(t *testing.T) {
		err := f.svc.VerifyReleaseCode(ctx, f.jobID, f.clientID, code.ReleaseCode)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})
}

func TestLockEscrow(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()

	tr, err := f.svc.LockEscrow(ctx, f.jobID, f.clientID, 800)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentEscrowLocked, tr.Status)
	assert.Equal(t, f.workerID, tr.WorkerID)
	assert.Equal(t, int64(800), tr.Amount)

	t.Run("second active payment conflicts", func(t *testing.T) {
		_, err := f.svc.LockEscrow(ctx, f.jobID, f.clientID, 800)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := f.svc.LockEscrow(ctx, f.jobID, f.clientID, 0)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("non-owner forbidden", func(t *testing.T) {
		_, err := f.svc.LockEscrow(ctx, f.jobID, f.workerID, 800)
		assert.True(t, domain.IsKind(err, domain.KindForbidden))
	})

	t.Run("unassigned job conflicts", func(t *testing.T) {
		f := newFixture(domain.StatusBidSelected)
		_, err := f.svc.LockEscrow(ctx, f.jobID, f.clientID, 800)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})
}

func TestReleasePayment_RequiresVerifiedCode(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()
	code := f.generate(t)
	_, err := f.svc.LockEscrow(ctx, f.jobID, f.clientID, 800)
	require.NoError(t, err)

	// Not yet pending payment.
	_, err = f.svc.ReleasePayment(ctx, f.jobID, f.clientID)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode))

	// Force the job forward without verifying the release code: the gate
	// must still refuse.
	f.store.jobs[f.jobID].Status = domain.StatusCompletedPending
	_, err = f.svc.ReleasePayment(ctx, f.jobID, f.clientID)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

// TestEscrowFlow runs the full gate: generate, lock escrow, verify both
// codes, release payment, job closed as COMPLETED.
func TestEscrowFlow(t *testing.T) {
	f := newFixture(domain.StatusReadyToStart)
	ctx := context.Background()

	code := f.generate(t)
	_, err := f.svc.LockEscrow(ctx, f.jobID, f.clientID, 800)
	require.NoError(t, err)

	require.NoError(t, f.svc.VerifyStartCode(ctx, f.jobID, f.workerID, code.StartCode))
	require.NoError(t, f.svc.VerifyReleaseCode(ctx, f.jobID, f.clientID, code.ReleaseCode))

	tr, err := f.svc.ReleasePayment(ctx, f.jobID, f.clientID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentReleased, tr.Status)
	assert.Equal(t, domain.StatusCompleted, f.store.jobs[f.jobID].Status)

	// The ledger row is terminal; nothing active remains for the job.
	_, err = f.store.GetActivePayment(ctx, f.jobID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	// Events: start, release authorization, completion.
	require.Len(t, f.bus.events, 3)
	assert.Equal(t, domain.StatusCompleted, f.bus.events[2].NewStatus)
}
