package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/domain"
	"github.com/cuongbtq/offer-ingest/internal/api/dto"
	"github.com/cuongbtq/offer-ingest/internal/api/storage"
	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateIngestion handles POST /api/v1/ingestions
// Stores a PENDING ingestion request and queues it for a worker
func (h *IngestionHandler) CreateIngestion(c *gin.Context) {
	var req dto.CreateIngestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "message must not be blank",
		})
		return
	}

	request := ingestdomain.IngestionRequest{
		RequestID:      uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		Message:        req.Message,
		MaxRetries:     h.defaultMaxRetries,
		TimeoutSeconds: int(h.defaultTimeout / time.Second),
	}
	if req.MaxRetries != nil {
		request.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		request.TimeoutSeconds = *req.TimeoutSeconds
	}

	ctx := c.Request.Context()
	stored, created, err := h.storage.CreateRequest(ctx, &request)
	if err != nil {
		h.logger.Error("Failed to create ingestion request", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create ingestion request",
		})
		return
	}

	if !created {
		h.logger.Info("Idempotency key already used, returning existing request",
			slog.String("idempotency_key", req.IdempotencyKey),
			slog.String("request_id", stored.RequestID),
		)
		c.JSON(http.StatusOK, toIngestionDTO(stored))
		return
	}

	body, err := json.Marshal(ingestdomain.RequestMessage{RequestID: stored.RequestID})
	if err != nil {
		h.logger.Error("Failed to marshal request message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to queue ingestion request",
		})
		return
	}

	// the request is stored; the reaper republishes it if this publish is lost
	if err := h.publisher.PublishWithRetry(ctx, stored.RequestID, body, "application/json"); err != nil {
		h.logger.Warn("Failed to publish ingestion request",
			slog.String("request_id", stored.RequestID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Ingestion request created", slog.String("request_id", stored.RequestID))
	c.JSON(http.StatusAccepted, toIngestionDTO(stored))
}

// GetIngestion handles GET /api/v1/ingestions/:request_id
func (h *IngestionHandler) GetIngestion(c *gin.Context) {
	requestID, ok := h.requestIDParam(c)
	if !ok {
		return
	}

	req, err := h.storage.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		h.respondError(c, err, "Failed to get ingestion request")
		return
	}

	c.JSON(http.StatusOK, toIngestionDTO(req))
}

// ListIngestions handles GET /api/v1/ingestions
// Lists requests newest first with optional status filter and cursor pagination
func (h *IngestionHandler) ListIngestions(c *gin.Context) {
	var req dto.ListIngestionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	status := ingestdomain.Status(strings.ToUpper(req.Status))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeRequestCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	reqs, err := h.storage.ListRequests(c.Request.Context(), storage.RequestFilter{
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list ingestion requests", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list ingestion requests",
		})
		return
	}

	hasMore := len(reqs) > req.PageSize
	if hasMore {
		reqs = reqs[:req.PageSize]
	}

	resp := dto.ListIngestionsResponse{Ingestions: make([]dto.IngestionDTO, len(reqs))}
	for i := range reqs {
		resp.Ingestions[i] = toIngestionDTO(&reqs[i])
	}

	if hasMore {
		last := reqs[len(reqs)-1]
		resp.NextCursor = EncodeRequestCursor(&storage.RequestCursor{
			CreatedAt: last.CreatedAt,
			RequestID: last.RequestID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelIngestion handles POST /api/v1/ingestions/:request_id/cancel
// Only PENDING requests can be canceled
func (h *IngestionHandler) CancelIngestion(c *gin.Context) {
	requestID, ok := h.requestIDParam(c)
	if !ok {
		return
	}

	req, err := h.storage.CancelRequest(c.Request.Context(), requestID)
	if errors.Is(err, domain.ErrRequestNotCancelable) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  err.Error(),
			"status": req.Status,
		})
		return
	}
	if err != nil {
		h.respondError(c, err, "Failed to cancel ingestion request")
		return
	}

	h.logger.Info("Ingestion request canceled", slog.String("request_id", requestID))
	c.JSON(http.StatusOK, toIngestionDTO(req))
}

// DeleteIngestion handles DELETE /api/v1/ingestions/:request_id
// Removes a request that already finished
func (h *IngestionHandler) DeleteIngestion(c *gin.Context) {
	requestID, ok := h.requestIDParam(c)
	if !ok {
		return
	}

	err := h.storage.DeleteRequest(c.Request.Context(), requestID)
	if errors.Is(err, domain.ErrRequestNotDeletable) {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		h.respondError(c, err, "Failed to delete ingestion request")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *IngestionHandler) requestIDParam(c *gin.Context) (string, bool) {
	requestID := c.Param("request_id")
	if _, err := uuid.Parse(requestID); err != nil {
		h.logger.Error("Invalid request_id format", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request_id must be a valid UUID",
		})
		return "", false
	}
	return requestID, true
}

func (h *IngestionHandler) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound), errors.Is(err, domain.ErrJobOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(message, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": message,
		})
	}
}

func toIngestionDTO(r *ingestdomain.IngestionRequest) dto.IngestionDTO {
	out := dto.IngestionDTO{
		RequestID:      r.RequestID,
		IdempotencyKey: r.IdempotencyKey,
		Message:        r.Message,
		Status:         string(r.Status),
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		TimeoutSeconds: r.TimeoutSeconds,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
	if r.WorkerID != nil {
		out.WorkerID = *r.WorkerID
	}
	if r.Result != nil && json.Valid([]byte(*r.Result)) {
		out.Result = json.RawMessage(*r.Result)
	}
	if r.ErrorMessage != nil {
		out.ErrorMessage = *r.ErrorMessage
	}
	if r.StartedAt != nil {
		out.StartedAt = r.StartedAt.Format(time.RFC3339)
	}
	if r.CompletedAt != nil {
		out.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return out
}
