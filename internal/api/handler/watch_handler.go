package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/domain"
	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const (
	defaultWatchInterval = time.Second
	defaultWatchLimit    = 10 * time.Second

	// clients reconnect this many milliseconds after the stream ends
	watchRetryMillis = 1000
)

// WatchIngestion handles GET /api/v1/ingestions/:request_id/events
// Streams a "status" event each time the request changes state. The stream ends
// after a terminal status, after the watch limit, or when the client goes away.
func (h *IngestionHandler) WatchIngestion(c *gin.Context) {
	requestID, ok := h.requestIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.watchLimit)
	defer cancel()

	req, err := h.storage.GetRequest(ctx, requestID)
	if err != nil {
		h.respondError(c, err, "Failed to get ingestion request")
		return
	}

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	logger := h.logger.With(slog.String("request_id", requestID))

	var last string
	for {
		if key := watchKey(req); key != last {
			last = key
			event := sse.Event{
				Event: "status",
				Id:    key,
				Retry: watchRetryMillis,
				Data:  toIngestionDTO(req),
			}
			if err := sse.Encode(c.Writer, event); err != nil {
				logger.Warn("Failed to write status event", slog.String("error", err.Error()))
				return
			}
			c.Writer.Flush()
		}

		if req.Status.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		req, err = h.storage.GetRequest(ctx, requestID)
		if err != nil {
			if errors.Is(err, domain.ErrRequestNotFound) {
				_ = sse.Encode(c.Writer, sse.Event{Event: "deleted", Id: requestID, Data: requestID})
				c.Writer.Flush()
				return
			}
			if ctx.Err() == nil {
				logger.Error("Failed to poll ingestion request", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// watchKey changes whenever a watcher should hear about the request again
func watchKey(r *ingestdomain.IngestionRequest) string {
	return fmt.Sprintf("%s-%d", r.Status, r.RetryCount)
}
