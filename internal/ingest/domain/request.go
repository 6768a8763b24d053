package domain

import "time"

// Status is the lifecycle state of an ingestion request
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IngestionRequest is one free-text message queued for extraction and ingestion
type IngestionRequest struct {
	RequestID       string     `db:"request_id"`
	IdempotencyKey  string     `db:"idempotency_key"`
	Message         string     `db:"message"`
	Status          Status     `db:"status"`
	WorkerID        *string    `db:"worker_id"`
	RetryCount      int        `db:"retry_count"`
	MaxRetries      int        `db:"max_retries"`
	TimeoutSeconds  int        `db:"timeout_seconds"`
	Result          *string    `db:"result"`
	ErrorMessage    *string    `db:"error_message"`
	StartedAt       *time.Time `db:"started_at"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Timeout returns the per-request processing budget, or fallback when unset
func (r *IngestionRequest) Timeout(fallback time.Duration) time.Duration {
	if r.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// RequestMessage is the queue payload announcing an ingestion request
type RequestMessage struct {
	RequestID string `json:"request_id"`
}

// IngestionResult is stored on a completed request
type IngestionResult struct {
	JobOfferID int64  `json:"job_offer_id"`
	ExternalID string `json:"external_id"`
}

// RequestColumns lists the ingestion_requests columns in IngestionRequest order
const RequestColumns = `request_id, idempotency_key, message, status, worker_id,
	retry_count, max_retries, timeout_seconds, result, error_message,
	started_at, last_heartbeat_at, completed_at, created_at, updated_at`
