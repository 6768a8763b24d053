package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/worker/storage"
	"github.com/robfig/cron/v3"
)

// Publisher publishes a queue message announcing an ingestion request
type Publisher interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

// ReaperConfig holds reaper configuration
type ReaperConfig struct {
	Logger     *slog.Logger
	Storage    *storage.Storage
	Publisher  Publisher
	Schedule   string // cron spec, e.g. "@every 1m"
	StaleAfter time.Duration
}

// Reaper periodically recovers requests whose worker went silent and
// republishes requests whose queue message was lost.
type Reaper struct {
	logger     *slog.Logger
	storage    *storage.Storage
	publisher  Publisher
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
	now        func() time.Time
}

// NewReaper creates a Reaper; call Start to schedule it
func NewReaper(cfg *ReaperConfig) *Reaper {
	logger := cfg.Logger.With(slog.String("component", "reaper"))
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	return &Reaper{
		logger:     logger,
		storage:    cfg.Storage,
		publisher:  cfg.Publisher,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep and starts the scheduler. Sweeps use ctx.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error("Reaper sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.logger.Info("Reaper started",
		slog.String("schedule", r.schedule),
		slog.Duration("stale_after", r.staleAfter),
	)
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Reaper stopped")
}

// Sweep runs one recovery pass
func (r *Reaper) Sweep(ctx context.Context) error {
	rec, err := r.storage.RecoverStale(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return err
	}

	for _, id := range rec.Failed {
		r.logger.Warn("Ingestion request failed after losing its worker",
			slog.String("request_id", id),
		)
	}

	for _, id := range slices.Concat(rec.Requeued, rec.Pending) {
		body, err := json.Marshal(ingestdomain.RequestMessage{RequestID: id})
		if err != nil {
			return fmt.Errorf("failed to marshal request message: %w", err)
		}

		if err := r.publisher.PublishWithRetry(ctx, id, body, "application/json"); err != nil {
			r.logger.Error("Failed to republish ingestion request",
				slog.String("request_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := r.storage.TouchPending(ctx, id); err != nil {
			r.logger.Warn("Failed to touch republished request",
				slog.String("request_id", id),
				slog.String("error", err.Error()),
			)
		}

		r.logger.Info("Ingestion request republished", slog.String("request_id", id))
	}

	return nil
}
