package domain

import "time"

// CodeStatus tracks which half of the start/release code pair is still
// outstanding.
type CodeStatus string

const (
	CodeStartPending   CodeStatus = "START_PENDING"
	CodeReleasePending CodeStatus = "RELEASE_PENDING"
	CodeCompleted      CodeStatus = "COMPLETED"
)

// ConfirmationCode is the one-time code pair gating work start and payment
// release. One row per job; "generate" is idempotent and returns the
// existing row when present.
type ConfirmationCode struct {
	JobID           string     `db:"job_id"`
	StartCode       string     `db:"start_code"`
	ReleaseCode     string     `db:"release_code"`
	Status          CodeStatus `db:"status"`
	StartAttempts   int        `db:"start_attempts"`
	ReleaseAttempts int        `db:"release_attempts"`
	GeneratedAt     time.Time  `db:"generated_at"`
	ExpiresAt       time.Time  `db:"expires_at"`
}

// Expired reports whether the code pair is past its expiry at the given
// instant.
func (c *ConfirmationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// PaymentStatus values mirror the payment_status enum in PostgreSQL.
type PaymentStatus string

const (
	PaymentPendingEscrow PaymentStatus = "PENDING_ESCROW"
	PaymentEscrowLocked  PaymentStatus = "ESCROW_LOCKED"
	PaymentReleased      PaymentStatus = "RELEASED"
)

// PaymentTransaction is the escrow ledger row for a job. At most one
// non-terminal (not RELEASED) transaction exists per job.
type PaymentTransaction struct {
	TransactionID string        `db:"transaction_id"`
	JobID         string        `db:"job_id"`
	ClientID      string        `db:"client_id"`
	WorkerID      string        `db:"worker_id"`
	Amount        int64         `db:"amount"`
	Status        PaymentStatus `db:"status"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}
