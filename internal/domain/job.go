// Package domain holds the marketplace entities, the job status state
// machine, and the error taxonomy shared by every service.
//
// Job status graph:
//
//	CREATED ──► OPEN_FOR_BIDS ──► BID_SELECTED_AWAITING_HANDSHAKE ──► READY_TO_START ──► IN_PROGRESS ──► COMPLETED_PENDING_PAYMENT ──► COMPLETED
//	                 │   ▲                │         │                       │                 │
//	                 │   └────────────────┘         │                       │                 │
//	                 ├──► JOB_CLOSED_DUE_TO_EXPIRATION                      │                 │
//	                 └──────────────────► CANCELLED ◄───────────────────────┴─────────────────┘
//
// COMPLETED, CANCELLED and JOB_CLOSED_DUE_TO_EXPIRATION are terminal.
package domain

import (
	"fmt"
	"time"
)

// JobStatus values mirror the job_status enum in PostgreSQL.
type JobStatus string

const (
	StatusCreated          JobStatus = "CREATED"
	StatusOpenForBids      JobStatus = "OPEN_FOR_BIDS"
	StatusBidSelected      JobStatus = "BID_SELECTED_AWAITING_HANDSHAKE"
	StatusReadyToStart     JobStatus = "READY_TO_START"
	StatusInProgress       JobStatus = "IN_PROGRESS"
	StatusCompletedPending JobStatus = "COMPLETED_PENDING_PAYMENT"
	StatusCompleted        JobStatus = "COMPLETED"
	StatusCancelled        JobStatus = "CANCELLED"
	StatusClosedExpired    JobStatus = "JOB_CLOSED_DUE_TO_EXPIRATION"
)

// AllJobStatuses lists every status, in lifecycle order.
var AllJobStatuses = []JobStatus{
	StatusCreated,
	StatusOpenForBids,
	StatusBidSelected,
	StatusReadyToStart,
	StatusInProgress,
	StatusCompletedPending,
	StatusCompleted,
	StatusCancelled,
	StatusClosedExpired,
}

// validTransitions lists every allowed (from → to) pair. The
// BID_SELECTED_AWAITING_HANDSHAKE → OPEN_FOR_BIDS edge is the re-open path
// taken when a worker rejects the handshake, so the job becomes biddable
// again instead of being stranded without a selected bid.
var validTransitions = map[JobStatus][]JobStatus{
	StatusCreated:          {StatusOpenForBids},
	StatusOpenForBids:      {StatusBidSelected, StatusCancelled, StatusClosedExpired},
	StatusBidSelected:      {StatusReadyToStart, StatusOpenForBids, StatusCancelled},
	StatusReadyToStart:     {StatusInProgress, StatusCancelled},
	StatusInProgress:       {StatusCompletedPending, StatusCancelled},
	StatusCompletedPending: {StatusCompleted},
	// COMPLETED, CANCELLED and JOB_CLOSED_DUE_TO_EXPIRATION are terminal
}

// ParseJobStatus converts a raw string to a JobStatus, returning an error
// for unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	for _, known := range AllJobStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition returns true when moving from → to is permitted by the
// state machine. Self-transitions are never permitted.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return false
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true when status has no outgoing transitions.
func (s JobStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// Job is the authoritative relational record of a posted job.
type Job struct {
	JobID          string     `db:"job_id"`
	Title          string     `db:"title"`
	Description    string     `db:"description"`
	Status         JobStatus  `db:"status"`
	AddressID      string     `db:"address_id"`
	Price          int64      `db:"price"` // minor currency units
	Urgency        string     `db:"urgency"`
	CreatedBy      string     `db:"created_by"`
	AssignedTo     *string    `db:"assigned_to"`
	RequiredSkills []string   `db:"-"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Address is an immutable location record referenced by jobs. Coordinates
// are optional; jobs without them never enter the geo index.
type Address struct {
	AddressID string   `db:"address_id"`
	Line1     string   `db:"line1"`
	City      string   `db:"city"`
	Latitude  *float64 `db:"latitude"`
	Longitude *float64 `db:"longitude"`
}

// HasCoordinates reports whether the address can be geo-indexed.
func (a *Address) HasCoordinates() bool {
	return a != nil && a.Latitude != nil && a.Longitude != nil
}
