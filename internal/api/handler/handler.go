package handler

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/storage"
	"github.com/jmoiron/sqlx"
)

// Publisher announces new ingestion requests to the worker queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

// JobOfferCache holds assembled job offers keyed by external id
type JobOfferCache interface {
	Get(ctx context.Context, externalID string, dest any) (bool, error)
	Set(ctx context.Context, externalID string, v any) error
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	DB                *sqlx.DB
	Publisher         Publisher
	Cache             JobOfferCache // optional
	HealthChecks      map[string]HealthCheck
	DefaultMaxRetries int
	DefaultTimeout    time.Duration
	WatchInterval     time.Duration // status poll period of an event stream
	WatchLimit        time.Duration // longest an event stream stays open
}

// IngestionHandler handles ingestion request and job offer HTTP requests
type IngestionHandler struct {
	logger            *slog.Logger
	storage           *storage.Storage
	publisher         Publisher
	cache             JobOfferCache
	defaultMaxRetries int
	defaultTimeout    time.Duration
	watchInterval     time.Duration
	watchLimit        time.Duration
}

// NewIngestionHandler creates a new IngestionHandler instance
func NewIngestionHandler(deps *Dependencies) *IngestionHandler {
	return &IngestionHandler{
		logger:            deps.Logger,
		storage:           storage.NewStorage(deps.DB),
		publisher:         deps.Publisher,
		cache:             deps.Cache,
		defaultMaxRetries: deps.DefaultMaxRetries,
		defaultTimeout:    deps.DefaultTimeout,
		watchInterval:     cmp.Or(deps.WatchInterval, defaultWatchInterval),
		watchLimit:        cmp.Or(deps.WatchLimit, defaultWatchLimit),
	}
}
