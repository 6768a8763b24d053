package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/extraction"
	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/worker/domain"
	"github.com/cuongbtq/offer-ingest/shared/postgresql"
)

// statusUpdateTimeout bounds outcome writes, which run even after the request context ended
const statusUpdateTimeout = 10 * time.Second

// processRequest runs one ingestion request: claim, extract, ingest, record the outcome.
// The returned error drives the ack/nack decision.
func (w *Worker) processRequest(ctx context.Context, requestID string) error {
	logger := w.logger.With(slog.String("request_id", requestID))

	req, err := w.storage.ClaimRequest(ctx, requestID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotClaimable) {
			return err
		}
		logger.Error("Failed to claim ingestion request", slog.String("error", err.Error()))
		if postgresql.IsTransient(err) {
			return domain.NewRetryableError(err)
		}
		return err
	}

	// the heartbeat cancels the run with ErrLeaseLost once the request is taken away
	leaseCtx, cancelLease := context.WithCancelCause(ctx)
	defer cancelLease(nil)

	runCtx, cancel := context.WithTimeout(leaseCtx, req.Timeout(w.defaultTimeout))
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendHeartbeat(runCtx, requestID, cancelLease, heartbeatDone)

	offer, runErr := w.run(runCtx, req)
	close(heartbeatDone)

	if errors.Is(context.Cause(leaseCtx), domain.ErrLeaseLost) {
		logger.Warn("Ingestion request taken over while running")
		return domain.ErrLeaseLost
	}

	updateCtx, cancelUpdate := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancelUpdate()

	if runErr == nil {
		return w.complete(updateCtx, logger, req, offer)
	}

	return w.fail(updateCtx, ctx, logger, req, runErr)
}

// run produces and commits the job offer for one request
func (w *Worker) run(ctx context.Context, req *ingestdomain.IngestionRequest) (*ingestdomain.JobOffer, error) {
	instruction, err := w.prompts.Build(req.Message)
	if err != nil {
		return nil, err
	}

	raw, err := extraction.ReadAll(ctx, w.extractor, instruction)
	if err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}

	return w.ingester.IngestOffer(ctx, raw)
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, req *ingestdomain.IngestionRequest, offer *ingestdomain.JobOffer) error {
	result, err := json.Marshal(ingestdomain.IngestionResult{
		JobOfferID: offer.ID,
		ExternalID: offer.ExternalID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := w.storage.MarkCompleted(ctx, req.RequestID, w.workerID, string(result)); err != nil {
		// the job offer is committed; a redelivery would only repeat an idempotent write
		logger.Error("Failed to update request status to COMPLETED", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrLeaseLost) {
			return err
		}
	}

	if w.cache != nil {
		if err := w.cache.Invalidate(ctx, offer.ExternalID); err != nil {
			logger.Warn("Failed to invalidate cached job offer",
				slog.String("external_id", offer.ExternalID),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("Ingestion request completed",
		slog.Int64("job_offer_id", offer.ID),
		slog.String("external_id", offer.ExternalID),
	)
	return nil
}

// fail records a failed run. parent is the worker context: when it was canceled
// the run was interrupted by shutdown and the attempt is not counted.
func (w *Worker) fail(ctx, parent context.Context, logger *slog.Logger, req *ingestdomain.IngestionRequest, runErr error) error {
	logger = logger.With(slog.String("error", runErr.Error()))

	if parent.Err() != nil {
		logger.Warn("Ingestion request interrupted by shutdown")
		if err := w.storage.Release(ctx, req.RequestID, w.workerID); err != nil {
			logger.Error("Failed to release ingestion request", slog.String("release_error", err.Error()))
		}
		return domain.NewRetryableError(runErr)
	}

	if !isTransient(runErr) {
		logger.Error("Ingestion request failed permanently")
		if err := w.storage.MarkFailed(ctx, req.RequestID, w.workerID, runErr.Error()); err != nil {
			logger.Error("Failed to update request status to FAILED", slog.String("update_error", err.Error()))
		}
		return runErr
	}

	if req.RetryCount < req.MaxRetries {
		logger.Info("Ingestion request will be retried",
			slog.Int("retry_count", req.RetryCount),
			slog.Int("max_retries", req.MaxRetries),
		)
		if err := w.storage.MarkForRetry(ctx, req.RequestID, w.workerID, runErr.Error()); err != nil {
			logger.Error("Failed to update request status to PENDING", slog.String("update_error", err.Error()))
		}
		return domain.NewRetryableError(runErr)
	}

	logger.Warn("Ingestion request exceeded max retries",
		slog.Int("retry_count", req.RetryCount),
		slog.Int("max_retries", req.MaxRetries),
	)
	if err := w.storage.MarkFailed(ctx, req.RequestID, w.workerID, runErr.Error()); err != nil {
		logger.Error("Failed to update request status to FAILED", slog.String("update_error", err.Error()))
	}
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, runErr)
}

// isTransient reports failures that may go away on their own: the extraction
// service being unreachable or overloaded, a run timeout, or a transient
// database error. Everything about the payload itself is permanent.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, extraction.ErrUnavailable) {
		return true
	}

	var statusErr *extraction.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	return postgresql.IsTransient(err)
}

// sendHeartbeat refreshes the request heartbeat until done is closed
func (w *Worker) sendHeartbeat(ctx context.Context, requestID string, cancelLease context.CancelCauseFunc, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			err := w.storage.UpdateHeartbeat(ctx, requestID, w.workerID)
			switch {
			case err == nil:
				w.logger.Debug("Request heartbeat updated", slog.String("request_id", requestID))
			case errors.Is(err, domain.ErrLeaseLost):
				cancelLease(domain.ErrLeaseLost)
				return
			default:
				w.logger.Warn("Failed to update request heartbeat",
					slog.String("request_id", requestID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
