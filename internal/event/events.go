// Package event carries domain events from the transactional core to
// asynchronous consumers. Producers publish only after their own commit;
// delivery is ordered per subscriber but best-effort: a subscriber that
// falls a full queue behind loses events, and the maintenance sweeps heal
// the derived state it missed.
package event

import "github.com/taskbid/taskbid-backend/internal/domain"

// ModificationType says what happened to the job.
type ModificationType string

const (
	TypeCreated       ModificationType = "CREATED"
	TypeUpdated       ModificationType = "UPDATED"
	TypeStatusChanged ModificationType = "STATUS_CHANGED"
	TypeDeleted       ModificationType = "DELETED"
)

// JobModified is published after any committed job mutation.
type JobModified struct {
	JobID           string           `json:"job_id"`
	OwnerID         string           `json:"owner_id"`
	ActorID         string           `json:"actor_id"`
	Type            ModificationType `json:"type"`
	OldStatus       domain.JobStatus `json:"old_status,omitempty"`
	NewStatus       domain.JobStatus `json:"new_status,omitempty"`
	LocationChanged bool             `json:"location_changed"`
	Latitude        *float64         `json:"latitude,omitempty"`
	Longitude       *float64         `json:"longitude,omitempty"`
}

// EnteredOpenForBids reports whether this modification moved the job into
// the bidding pool (and therefore into the geo index).
func (e JobModified) EnteredOpenForBids() bool {
	switch e.Type {
	case TypeCreated:
		return e.NewStatus == domain.StatusOpenForBids
	case TypeStatusChanged:
		return e.OldStatus != domain.StatusOpenForBids && e.NewStatus == domain.StatusOpenForBids
	}
	return false
}

// ExitedOpenForBids reports whether this modification removed the job from
// the bidding pool.
func (e JobModified) ExitedOpenForBids() bool {
	switch e.Type {
	case TypeDeleted:
		return e.OldStatus == domain.StatusOpenForBids
	case TypeStatusChanged:
		return e.OldStatus == domain.StatusOpenForBids && e.NewStatus != domain.StatusOpenForBids
	}
	return false
}

// JobExpired is published when the expiration sweep closes a stale job.
type JobExpired struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
}
