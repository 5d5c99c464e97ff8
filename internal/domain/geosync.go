package domain

import "time"

// GeoOp is the kind of geo-index write that failed.
type GeoOp string

const (
	GeoOpAdd    GeoOp = "ADD"
	GeoOpRemove GeoOp = "REMOVE"
)

// FailedGeoSync records a geo-index write that failed while its originating
// relational transaction committed. Rows are never deleted, only marked
// resolved, so the table doubles as an audit trail of index outages.
type FailedGeoSync struct {
	ID         int64     `db:"id"`
	JobID      string    `db:"job_id"`
	Operation  GeoOp     `db:"operation"`
	Latitude   *float64  `db:"latitude"`
	Longitude  *float64  `db:"longitude"`
	RetryCount int       `db:"retry_count"`
	Resolved   bool      `db:"resolved"`
	LastError  string    `db:"last_error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}
