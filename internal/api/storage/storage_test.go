package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/domain"
	"github.com/cuongbtq/offer-ingest/internal/ingest"
	ingestdomain "github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	ingeststorage "github.com/cuongbtq/offer-ingest/internal/ingest/storage"
	"github.com/cuongbtq/offer-ingest/internal/testutil"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*Storage, *sqlx.DB) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	return NewStorage(db), db
}

func TestStorage_CreateRequest_Idempotent(t *testing.T) {
	s, db := newTestStorage(t)
	ctx := context.Background()

	first := &ingestdomain.IngestionRequest{
		RequestID:      uuid.NewString(),
		IdempotencyKey: "key-1",
		Message:        "Go engineer at Acme",
		MaxRetries:     3,
		TimeoutSeconds: 60,
	}
	stored, created, err := s.CreateRequest(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ingestdomain.StatusPending, stored.Status)

	second := &ingestdomain.IngestionRequest{
		RequestID:      uuid.NewString(),
		IdempotencyKey: "key-1",
		Message:        "a different message",
	}
	existing, created, err := s.CreateRequest(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.RequestID, existing.RequestID)
	assert.Equal(t, "Go engineer at Acme", existing.Message)
	assert.Equal(t, 60, existing.TimeoutSeconds)

	assert.Equal(t, 1, testutil.Count(t, db, "ingestion_requests"))
}

func TestStorage_ListRequests_Pagination(t *testing.T) {
	s, db := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 5 {
		id := uuid.NewString()
		ids = append(ids, id)
		status := ingestdomain.StatusPending
		if i%2 == 1 {
			status = ingestdomain.StatusCompleted
		}
		testutil.InsertRequest(t, db, ingestdomain.IngestionRequest{
			RequestID: id,
			Message:   "msg",
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	page, err := s.ListRequests(ctx, RequestFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3, "one extra row signals another page")
	assert.Equal(t, ids[4], page[0].RequestID)
	assert.Equal(t, ids[3], page[1].RequestID)

	last := page[1]
	page, err = s.ListRequests(ctx, RequestFilter{
		PageSize: 2,
		Cursor:   &RequestCursor{CreatedAt: last.CreatedAt, RequestID: last.RequestID},
	})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].RequestID)
	assert.Equal(t, ids[1], page[1].RequestID)

	completed, err := s.ListRequests(ctx, RequestFilter{Status: ingestdomain.StatusCompleted, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, ids[3], completed[0].RequestID)
	assert.Equal(t, ids[1], completed[1].RequestID)
}

func TestStorage_CancelAndDelete(t *testing.T) {
	tests := []struct {
		name       string
		status     ingestdomain.Status
		cancelErr  error
		deleteErr  error
		wantStatus ingestdomain.Status
	}{
		{"pending", ingestdomain.StatusPending, nil, nil, ingestdomain.StatusCanceled},
		{"running", ingestdomain.StatusRunning, domain.ErrRequestNotCancelable, domain.ErrRequestNotDeletable, ingestdomain.StatusRunning},
		{"completed", ingestdomain.StatusCompleted, domain.ErrRequestNotCancelable, nil, ingestdomain.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db := newTestStorage(t)
			ctx := context.Background()
			id := uuid.NewString()
			testutil.InsertRequest(t, db, ingestdomain.IngestionRequest{RequestID: id, Message: "msg", Status: tt.status})

			req, err := s.CancelRequest(ctx, id)
			if tt.cancelErr != nil {
				assert.ErrorIs(t, err, tt.cancelErr)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, req.CompletedAt)
			}
			require.NotNil(t, req)
			assert.Equal(t, tt.wantStatus, req.Status)

			err = s.DeleteRequest(ctx, id)
			if tt.deleteErr != nil {
				assert.ErrorIs(t, err, tt.deleteErr)
				return
			}
			require.NoError(t, err)
			_, err = s.GetRequest(ctx, id)
			assert.ErrorIs(t, err, domain.ErrRequestNotFound)
		})
	}
}

func TestStorage_UnknownRequest(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.CancelRequest(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
	assert.ErrorIs(t, s.DeleteRequest(ctx, id), domain.ErrRequestNotFound)
}

func TestStorage_GetJobOffer(t *testing.T) {
	s, db := newTestStorage(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	pipeline := ingest.NewPipeline(&ingest.Config{
		Logger: logger,
		Store:  ingeststorage.NewStore(db, logger),
	})
	require.NoError(t, pipeline.Ingest(ctx, `{"jobOffer": {
		"external_id": "X1",
		"title": "Backend Engineer",
		"source_url": "https://jobs.example.com/x1",
		"seniority": "senior",
		"company": {"name": "Acme", "location": {"city": "Berlin", "country": "DE"}},
		"location": {"city": "Hamburg", "country": "DE"},
		"salary": {"min_value": 60000, "max_value": 80000, "currency": "EUR", "period": "year"},
		"industry": "Software",
		"benefits": ["Remote budget", "Gym"],
		"keywords": ["go"]
	}}`))

	view, err := s.GetJobOffer(ctx, "X1")
	require.NoError(t, err)

	assert.Equal(t, "Backend Engineer", view.Title)
	require.NotNil(t, view.CompanyName)
	assert.Equal(t, "Acme", *view.CompanyName)
	require.NotNil(t, view.CompanyCity)
	assert.Equal(t, "Berlin", *view.CompanyCity)
	require.NotNil(t, view.LocationCity)
	assert.Equal(t, "Hamburg", *view.LocationCity)
	require.NotNil(t, view.SalaryMax)
	assert.InDelta(t, 80000, *view.SalaryMax, 0.001)
	require.NotNil(t, view.Industry)
	assert.Equal(t, "Software", *view.Industry)
	assert.Nil(t, view.Profession)

	assert.Equal(t, []string{"Gym", "Remote budget"}, view.Tags[ingeststorage.Benefits.Table])
	assert.Equal(t, []string{"go"}, view.Tags[ingeststorage.Keywords.Table])
	assert.Empty(t, view.Tags[ingeststorage.WorkModes.Table])

	_, err = s.GetJobOffer(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobOfferNotFound)

	// the read transaction is released on every path; the test pool has one connection
	again, err := s.GetJobOffer(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, view.ID, again.ID)
	assert.Equal(t, view.Tags, again.Tags)
}

func TestStorage_GetJobOffer_CanceledContext(t *testing.T) {
	s, _ := newTestStorage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetJobOffer(ctx, "X1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrJobOfferNotFound)
}
