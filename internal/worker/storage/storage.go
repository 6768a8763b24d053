package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetRequest retrieves an ingestion request by its ID
func (s *Storage) GetRequest(ctx context.Context, requestID string) (*ingestdomain.IngestionRequest, error) {
	query := s.db.Rebind(`SELECT ` + ingestdomain.RequestColumns + ` FROM ingestion_requests WHERE request_id = ?`)

	var req ingestdomain.IngestionRequest
	if err := s.db.GetContext(ctx, &req, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get ingestion request: %w", err)
	}

	return &req, nil
}

// ClaimRequest moves a PENDING request to RUNNING for workerID. Only one
// worker can win the claim for a given request.
func (s *Storage) ClaimRequest(ctx context.Context, requestID, workerID string) (*ingestdomain.IngestionRequest, error) {
	now := s.now()
	query := s.db.Rebind(`
		UPDATE ingestion_requests
		SET status = ?,
		    worker_id = ?,
		    started_at = ?,
		    last_heartbeat_at = ?,
		    updated_at = ?
		WHERE request_id = ?
		  AND status = ?
		RETURNING request_id, idempotency_key, message, status, retry_count, max_retries, timeout_seconds
	`)

	var req ingestdomain.IngestionRequest
	err := s.db.GetContext(ctx, &req, query,
		ingestdomain.StatusRunning, workerID, now, now, now,
		requestID, ingestdomain.StatusPending,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim ingestion request - already claimed or not found",
				slog.String("request_id", requestID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrRequestNotClaimable
		}
		return nil, fmt.Errorf("failed to claim ingestion request: %w", err)
	}

	req.WorkerID = &workerID
	req.StartedAt = &now
	req.LastHeartbeatAt = &now

	s.logger.Info("Ingestion request claimed",
		slog.String("request_id", requestID),
		slog.String("worker_id", workerID),
		slog.Int("retry_count", req.RetryCount),
	)

	return &req, nil
}

// MarkCompleted records a successful run together with its result document
func (s *Storage) MarkCompleted(ctx context.Context, requestID, workerID, result string) error {
	now := s.now()
	return s.finish(ctx, requestID, workerID, `
		UPDATE ingestion_requests
		SET status = ?, result = ?, error_message = NULL, completed_at = ?, updated_at = ?
		WHERE request_id = ? AND worker_id = ? AND status = ?
	`, ingestdomain.StatusCompleted, result, now, now, requestID, workerID, ingestdomain.StatusRunning)
}

// MarkFailed records a terminal failure
func (s *Storage) MarkFailed(ctx context.Context, requestID, workerID, reason string) error {
	now := s.now()
	return s.finish(ctx, requestID, workerID, `
		UPDATE ingestion_requests
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE request_id = ? AND worker_id = ? AND status = ?
	`, ingestdomain.StatusFailed, reason, now, now, requestID, workerID, ingestdomain.StatusRunning)
}

// MarkForRetry puts the request back to PENDING and counts the failed attempt
func (s *Storage) MarkForRetry(ctx context.Context, requestID, workerID, reason string) error {
	return s.finish(ctx, requestID, workerID, `
		UPDATE ingestion_requests
		SET status = ?, worker_id = NULL, retry_count = retry_count + 1, error_message = ?, updated_at = ?
		WHERE request_id = ? AND worker_id = ? AND status = ?
	`, ingestdomain.StatusPending, reason, s.now(), requestID, workerID, ingestdomain.StatusRunning)
}

// Release puts the request back to PENDING without counting an attempt; used
// when the worker shuts down mid-run.
func (s *Storage) Release(ctx context.Context, requestID, workerID string) error {
	return s.finish(ctx, requestID, workerID, `
		UPDATE ingestion_requests
		SET status = ?, worker_id = NULL, updated_at = ?
		WHERE request_id = ? AND worker_id = ? AND status = ?
	`, ingestdomain.StatusPending, s.now(), requestID, workerID, ingestdomain.StatusRunning)
}

func (s *Storage) finish(ctx context.Context, requestID, workerID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update ingestion request: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}

	s.logger.Debug("Ingestion request updated",
		slog.String("request_id", requestID),
		slog.String("worker_id", workerID),
	)
	return nil
}

// UpdateHeartbeat refreshes last_heartbeat_at for a request this worker is running
func (s *Storage) UpdateHeartbeat(ctx context.Context, requestID, workerID string) error {
	now := s.now()
	query := s.db.Rebind(`
		UPDATE ingestion_requests
		SET last_heartbeat_at = ?, updated_at = ?
		WHERE request_id = ? AND worker_id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query, now, now, requestID, workerID, ingestdomain.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// Recovered lists what one reaper sweep changed
type Recovered struct {
	Requeued []string // RUNNING requests reset to PENDING
	Failed   []string // RUNNING requests out of retries
	Pending  []string // PENDING requests idle for too long
}

// RecoverStale resets RUNNING requests whose heartbeat is older than cutoff.
// Each one counts as a failed attempt. PENDING requests untouched since cutoff
// are reported so their queue message can be published again.
func (s *Storage) RecoverStale(ctx context.Context, cutoff time.Time) (*Recovered, error) {
	var stale []ingestdomain.IngestionRequest
	query := s.db.Rebind(`
		SELECT request_id, retry_count, max_retries
		FROM ingestion_requests
		WHERE status = ? AND last_heartbeat_at < ?
		ORDER BY last_heartbeat_at
	`)
	if err := s.db.SelectContext(ctx, &stale, query, ingestdomain.StatusRunning, cutoff); err != nil {
		return nil, fmt.Errorf("failed to select stale ingestion requests: %w", err)
	}

	rec := &Recovered{}
	now := s.now()
	for _, req := range stale {
		var (
			update string
			args   []any
		)
		if req.RetryCount < req.MaxRetries {
			update = `
				UPDATE ingestion_requests
				SET status = ?, worker_id = NULL, retry_count = retry_count + 1,
				    error_message = ?, updated_at = ?
				WHERE request_id = ? AND status = ? AND last_heartbeat_at < ?
			`
			args = []any{ingestdomain.StatusPending, "worker heartbeat lost", now}
		} else {
			update = `
				UPDATE ingestion_requests
				SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
				WHERE request_id = ? AND status = ? AND last_heartbeat_at < ?
			`
			args = []any{ingestdomain.StatusFailed, "worker heartbeat lost; " + domain.ErrMaxRetriesExceeded.Error(), now, now}
		}
		args = append(args, req.RequestID, ingestdomain.StatusRunning, cutoff)

		result, err := s.db.ExecContext(ctx, s.db.Rebind(update), args...)
		if err != nil {
			return rec, fmt.Errorf("failed to recover ingestion request %s: %w", req.RequestID, err)
		}
		// a heartbeat may have landed between the select and the update
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			continue
		}

		if req.RetryCount < req.MaxRetries {
			rec.Requeued = append(rec.Requeued, req.RequestID)
		} else {
			rec.Failed = append(rec.Failed, req.RequestID)
		}
	}

	pendingQuery := s.db.Rebind(`
		SELECT request_id FROM ingestion_requests
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
	`)
	if err := s.db.SelectContext(ctx, &rec.Pending, pendingQuery, ingestdomain.StatusPending, cutoff); err != nil {
		return rec, fmt.Errorf("failed to select idle pending requests: %w", err)
	}

	if len(rec.Requeued)+len(rec.Failed)+len(rec.Pending) > 0 {
		s.logger.Info("Recovered stale ingestion requests",
			slog.Int("requeued", len(rec.Requeued)),
			slog.Int("failed", len(rec.Failed)),
			slog.Int("pending", len(rec.Pending)),
		)
	}

	return rec, nil
}

// TouchPending bumps updated_at of a PENDING request after its message was
// published again, so the next sweep does not pick it up immediately.
func (s *Storage) TouchPending(ctx context.Context, requestID string) error {
	query := s.db.Rebind(`UPDATE ingestion_requests SET updated_at = ? WHERE request_id = ? AND status = ?`)
	if _, err := s.db.ExecContext(ctx, query, s.now(), requestID, ingestdomain.StatusPending); err != nil {
		return fmt.Errorf("failed to touch ingestion request: %w", err)
	}
	return nil
}
