package worker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/worker/storage"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the queue side the worker needs
type Broker interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Extractor streams the extraction service's answer for an instruction
type Extractor interface {
	Stream(ctx context.Context, instruction string) iter.Seq2[string, error]
}

// Ingester commits one extracted job offer
type Ingester interface {
	IngestOffer(ctx context.Context, raw string) (*ingestdomain.JobOffer, error)
}

// PromptBuilder renders the extraction instruction for a message
type PromptBuilder interface {
	Build(message string) (string, error)
}

// CacheInvalidator drops cached reads of a job offer after it changed
type CacheInvalidator interface {
	Invalidate(ctx context.Context, externalID string) error
}

const defaultHeartbeatInterval = 10 * time.Second

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           *storage.Storage
	Broker            Broker
	Extractor         Extractor
	Ingester          Ingester
	Prompts           PromptBuilder
	Cache             CacheInvalidator // optional
	WorkerID          string           // generated when empty
	Concurrency       int
	DefaultTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// Worker consumes ingestion requests and runs them through extraction and ingestion
type Worker struct {
	logger            *slog.Logger
	storage           *storage.Storage
	broker            Broker
	extractor         Extractor
	ingester          Ingester
	prompts           PromptBuilder
	cache             CacheInvalidator
	workerID          string
	concurrency       int
	defaultTimeout    time.Duration
	heartbeatInterval time.Duration

	jobsChan   chan *jobMessage
	wg         sync.WaitGroup
	mu         sync.Mutex
	procCancel context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", workerID)),
		storage:           cfg.Storage,
		broker:            cfg.Broker,
		extractor:         cfg.Extractor,
		ingester:          cfg.Ingester,
		prompts:           cfg.Prompts,
		cache:             cfg.Cache,
		workerID:          workerID,
		concurrency:       max(cfg.Concurrency, 1),
		defaultTimeout:    cfg.DefaultTimeout,
		heartbeatInterval: cmp.Or(cfg.HeartbeatInterval, defaultHeartbeatInterval),
	}
}

// ID returns the worker identity recorded on claimed requests
func (w *Worker) ID() string {
	return w.workerID
}

// Start subscribes to the queue and processes requests until ctx is canceled.
// Requests already handed to the pool keep running; Stop waits for them.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("default_timeout", w.defaultTimeout),
	)

	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// in-flight requests outlive ctx; Stop cancels them past the shutdown timeout
	procCtx, procCancel := context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Lock()
	w.procCancel = procCancel
	w.mu.Unlock()

	w.jobsChan = make(chan *jobMessage)
	w.spawnWorkerPool(procCtx)

	dispatchErr := w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)

	if err := w.broker.Cancel(w.workerID); err != nil {
		w.logger.Warn("Failed to cancel consumer", slog.String("error", err.Error()))
	}

	return dispatchErr
}

// Stop waits for in-flight requests. Past timeout they are canceled and
// released back to PENDING.
func (w *Worker) Stop(timeout time.Duration) error {
	w.logger.Info("Stopping worker...")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
		return nil
	case <-time.After(timeout):
	}

	w.logger.Warn("Shutdown timeout reached, canceling in-flight requests")
	w.mu.Lock()
	if w.procCancel != nil {
		w.procCancel()
	}
	w.mu.Unlock()
	<-done

	return errors.New("worker stopped after shutdown timeout")
}
