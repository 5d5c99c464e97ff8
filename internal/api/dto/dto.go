package dto

type CreateJobRequest struct {
	Title          string   `json:"title" binding:"required"`
	Description    string   `json:"description"`
	AddressID      string   `json:"address_id" binding:"required"`
	Price          int64    `json:"price" binding:"required"`
	Urgency        string   `json:"urgency"`
	RequiredSkills []string `json:"required_skills" binding:"required"`
}

type UpdateJobRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	AddressID   *string `json:"address_id"`
	Price       *int64  `json:"price"`
	Urgency     *string `json:"urgency"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type JobResponse struct {
	JobID       string  `json:"job_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	AddressID   string  `json:"address_id"`
	Price       int64   `json:"price"`
	Urgency     string  `json:"urgency"`
	CreatedBy   string  `json:"created_by"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type PlaceBidRequest struct {
	JobID  string `json:"job_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
}

type HandshakeRequest struct {
	Accepted bool `json:"accepted"`
}

type BidResponse struct {
	BidID    string `json:"bid_id"`
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

type VerifyCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type CodesResponse struct {
	JobID       string `json:"job_id"`
	StartCode   string `json:"start_code"`
	ReleaseCode string `json:"release_code"`
	Status      string `json:"status"`
	ExpiresAt   string `json:"expires_at"`
}

type LockEscrowRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type PaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	JobID         string `json:"job_id"`
	ClientID      string `json:"client_id"`
	WorkerID      string `json:"worker_id"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
}

type NearbyJobResponse struct {
	JobID      string  `json:"job_id"`
	DistanceKm float64 `json:"distance_km"`
}
