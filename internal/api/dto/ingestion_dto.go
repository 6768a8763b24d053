package dto

import "encoding/json"

type CreateIngestionRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required,max=255"`
	Message        string `json:"message" binding:"required"`
	MaxRetries     *int   `json:"max_retries" binding:"omitempty,min=0,max=20"`
	TimeoutSeconds *int   `json:"timeout_seconds" binding:"omitempty,min=1,max=3600"`
}

type ListIngestionsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListIngestionsResponse struct {
	Ingestions []IngestionDTO `json:"ingestions"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type IngestionDTO struct {
	RequestID      string          `json:"request_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Message        string          `json:"message"`
	Status         string          `json:"status"`
	WorkerID       string          `json:"worker_id,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}
