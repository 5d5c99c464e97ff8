package domain

import "time"

// BidStatus values mirror the bid_status enum in PostgreSQL.
type BidStatus string

const (
	BidPending  BidStatus = "PENDING"
	BidSelected BidStatus = "SELECTED"
	BidRejected BidStatus = "REJECTED"
)

// Bid is a worker's offer on an open job. For a fixed job at most one bid
// is SELECTED at any instant.
type Bid struct {
	BidID     string    `db:"bid_id"`
	JobID     string    `db:"job_id"`
	WorkerID  string    `db:"worker_id"`
	Amount    int64     `db:"amount"`
	Status    BidStatus `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
