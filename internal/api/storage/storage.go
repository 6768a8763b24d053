package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/domain"
	"github.com/cuongbtq/offer-ingest/internal/api/model"
	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	ingeststorage "github.com/cuongbtq/offer-ingest/internal/ingest/storage"
	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest stores req as a new PENDING request. When a request with the
// same idempotency key exists it is returned instead and created is false.
func (s *Storage) CreateRequest(ctx context.Context, req *ingestdomain.IngestionRequest) (*ingestdomain.IngestionRequest, bool, error) {
	now := s.now()
	req.Status = ingestdomain.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO ingestion_requests (
			request_id, idempotency_key, message, status,
			max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?
		)
		ON CONFLICT (idempotency_key) DO NOTHING
	`)

	result, err := s.db.ExecContext(ctx, query,
		req.RequestID, req.IdempotencyKey, req.Message, req.Status,
		req.MaxRetries, req.TimeoutSeconds, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create ingestion request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return req, true, nil
	}

	existing, err := s.getRequestBy(ctx, "idempotency_key", req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Storage) GetRequest(ctx context.Context, requestID string) (*ingestdomain.IngestionRequest, error) {
	return s.getRequestBy(ctx, "request_id", requestID)
}

func (s *Storage) getRequestBy(ctx context.Context, column, value string) (*ingestdomain.IngestionRequest, error) {
	query := s.db.Rebind(`SELECT ` + ingestdomain.RequestColumns + ` FROM ingestion_requests WHERE ` + column + ` = ?`)

	var req ingestdomain.IngestionRequest
	if err := s.db.GetContext(ctx, &req, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get ingestion request: %w", err)
	}

	return &req, nil
}

type RequestFilter struct {
	Status   ingestdomain.Status
	PageSize int
	Cursor   *RequestCursor
}

type RequestCursor struct {
	CreatedAt time.Time
	RequestID string
}

// ListRequests returns up to PageSize+1 requests, newest first, so the caller
// can tell whether another page exists.
func (s *Storage) ListRequests(ctx context.Context, filter RequestFilter) ([]ingestdomain.IngestionRequest, error) {
	query := `SELECT ` + ingestdomain.RequestColumns + ` FROM ingestion_requests WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND request_id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.RequestID)
	}

	query += " ORDER BY created_at DESC, request_id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var reqs []ingestdomain.IngestionRequest
	if err := s.db.SelectContext(ctx, &reqs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list ingestion requests: %w", err)
	}

	return reqs, nil
}

// CancelRequest moves a PENDING request to CANCELED. A worker that later
// receives its message finds nothing to claim.
func (s *Storage) CancelRequest(ctx context.Context, requestID string) (*ingestdomain.IngestionRequest, error) {
	now := s.now()
	query := s.db.Rebind(`
		UPDATE ingestion_requests
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE request_id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		ingestdomain.StatusCanceled, now, now,
		requestID, ingestdomain.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel ingestion request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return req, domain.ErrRequestNotCancelable
	}
	return req, nil
}

// DeleteRequest removes a request that reached a terminal status
func (s *Storage) DeleteRequest(ctx context.Context, requestID string) error {
	query := s.db.Rebind(`
		DELETE FROM ingestion_requests
		WHERE request_id = ? AND status IN (?, ?, ?)
	`)

	result, err := s.db.ExecContext(ctx, query, requestID,
		ingestdomain.StatusCompleted, ingestdomain.StatusFailed, ingestdomain.StatusCanceled,
	)
	if err != nil {
		return fmt.Errorf("failed to delete ingestion request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return err
	}
	return domain.ErrRequestNotDeletable
}

const jobOfferQuery = `
	SELECT
		jo.id, jo.external_id, jo.title, jo.source_url, jo.description,
		jo.seniority, jo.language, jo.published_at, jo.expires_at,
		jo.created_at, jo.updated_at,
		c.name AS company_name, c.website AS company_website,
		cl.city AS company_city, cl.country AS company_country, cl.region AS company_region,
		l.city AS location_city, l.country AS location_country, l.region AS location_region,
		s.id AS salary_id, s.min_value AS salary_min, s.max_value AS salary_max,
		s.currency AS salary_currency, s.period AS salary_period,
		i.name AS industry, p.name AS profession
	FROM job_offers jo
	LEFT JOIN companies c ON c.id = jo.company_id
	LEFT JOIN locations cl ON cl.id = c.location_id
	LEFT JOIN locations l ON l.id = jo.location_id
	LEFT JOIN salaries s ON s.id = jo.salary_id
	LEFT JOIN industries i ON i.id = jo.industry_id
	LEFT JOIN professions p ON p.id = jo.profession_id
	WHERE jo.external_id = ?
`

// TagKinds are the associations a job offer view carries, in response order
var TagKinds = []ingeststorage.TagKind{
	ingeststorage.Benefits,
	ingeststorage.Requirements,
	ingeststorage.WorkModes,
	ingeststorage.ContractTypes,
	ingeststorage.Keywords,
}

var jobOfferTagsQuery = buildJobOfferTagsQuery()

func buildJobOfferTagsQuery() string {
	parts := make([]string, len(TagKinds))
	for i, k := range TagKinds {
		parts[i] = fmt.Sprintf(
			`SELECT '%s' AS kind, t.name FROM %s j JOIN %s t ON t.id = j.%s WHERE j.job_offer_id = ?`,
			k.Table, k.JoinTable, k.Table, k.Column,
		)
	}
	return strings.Join(parts, " UNION ALL ") + " ORDER BY kind, name"
}

// GetJobOffer assembles the job offer stored under externalID. The row and its
// tags are read from one snapshot.
func (s *Storage) GetJobOffer(ctx context.Context, externalID string) (*model.JobOfferView, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin job offer read: %w", err)
	}
	defer tx.Rollback()

	var row model.JobOfferRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(jobOfferQuery), externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobOfferNotFound
		}
		return nil, fmt.Errorf("failed to get job offer: %w", err)
	}

	args := make([]any, len(TagKinds))
	for i := range args {
		args[i] = row.ID
	}

	var tags []model.TagRow
	if err := tx.SelectContext(ctx, &tags, tx.Rebind(jobOfferTagsQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to get job offer tags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finish job offer read: %w", err)
	}

	view := &model.JobOfferView{
		JobOfferRow: row,
		Tags:        make(map[string][]string, len(TagKinds)),
	}
	for _, t := range tags {
		view.Tags[t.Kind] = append(view.Tags[t.Kind], t.Name)
	}

	return view, nil
}
