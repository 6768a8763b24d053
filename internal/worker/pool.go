package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/offer-ingest/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes messages until the dispatcher closes jobsChan
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	logger := w.logger.With(slog.String("worker_name", fmt.Sprintf("%s-%d", w.workerID, workerNum)))
	logger.Debug("Worker goroutine started")

	for msg := range w.jobsChan {
		err := w.processRequest(ctx, msg.RequestID)
		w.settle(logger, msg, err)
	}

	logger.Debug("Worker goroutine stopping - jobsChan closed")
}

// settle acks or nacks the delivery according to the processing outcome
func (w *Worker) settle(logger *slog.Logger, msg *jobMessage, err error) {
	logger = logger.With(slog.String("request_id", msg.RequestID))

	if err == nil || shouldAck(err) {
		if err != nil {
			logger.Info("Dropping message for request owned elsewhere",
				slog.String("reason", err.Error()),
			)
		}
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
		}
		return
	}

	requeue := shouldRequeue(err)
	logger.Error("Request processing failed",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)

	if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
	}
}

// shouldAck reports errors meaning the message is a duplicate: the request is
// already being handled, or was handled, by someone else.
func shouldAck(err error) bool {
	return errors.Is(err, domain.ErrRequestNotClaimable) || errors.Is(err, domain.ErrLeaseLost)
}

// shouldRequeue determines if a message should be requeued based on the error type
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrMaxRetriesExceeded) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
