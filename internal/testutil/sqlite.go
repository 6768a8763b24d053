// Package testutil opens throwaway databases carrying the production schema.
package testutil

import (
	_ "embed"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

//go:embed schema_sqlite.sql
var schema string

var dbSeq atomic.Int64

// OpenSQLite opens a fresh in-memory SQLite database with the full schema applied.
// The pool is limited to one connection so every statement sees the same database.
func OpenSQLite(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=private&_foreign_keys=on", dbSeq.Add(1))
	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err, "open in-memory sqlite")

	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = db.Exec(schema)
	require.NoError(t, err, "apply schema")

	return db
}

// Count returns the number of rows in table
func Count(t testing.TB, db *sqlx.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

// InsertRequest stores an ingestion request row. Zero timestamps default to now,
// an empty status to PENDING and an empty idempotency key to the request id.
func InsertRequest(t testing.TB, db *sqlx.DB, r domain.IngestionRequest) {
	t.Helper()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	if r.IdempotencyKey == "" {
		r.IdempotencyKey = r.RequestID
	}

	_, err := db.NamedExec(`
		INSERT INTO ingestion_requests (`+domain.RequestColumns+`)
		VALUES (:request_id, :idempotency_key, :message, :status, :worker_id,
			:retry_count, :max_retries, :timeout_seconds, :result, :error_message,
			:started_at, :last_heartbeat_at, :completed_at, :created_at, :updated_at)
	`, r)
	require.NoError(t, err, "insert ingestion request")
}
