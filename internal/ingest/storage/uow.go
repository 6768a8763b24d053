package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/jmoiron/sqlx"
)

// State is the lifecycle state of a UnitOfWork
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrUnitOfWorkClosed is returned when a committed or aborted unit of work is used again
var ErrUnitOfWorkClosed = errors.New("unit of work is no longer open")

// Store opens units of work against the normalized job offer schema
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// UnitOfWork is one transaction shared by every resolver and linker of a single ingestion.
// Statements are serialized because a transaction owns exactly one connection.
type UnitOfWork struct {
	mu     sync.Mutex
	tx     *sqlx.Tx
	state  State
	logger *slog.Logger
}

// Begin opens a new unit of work
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.NewPersistenceError("begin transaction", err)
	}

	return &UnitOfWork{
		tx:     tx,
		state:  StateOpen,
		logger: s.logger,
	}, nil
}

// RunInUnitOfWork runs fn inside a fresh unit of work. fn's error aborts the unit of work
// and is returned after the abort; a failed abort is attached to it, never substituted.
// A panic in fn aborts before it propagates.
func (s *Store) RunInUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) (err error) {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := uow.Rollback(); rbErr != nil {
				s.logger.Error("Failed to abort unit of work after panic",
					slog.Any("error", rbErr),
				)
			}
			panic(r)
		}
	}()

	if err := fn(ctx, uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			s.logger.Error("Failed to abort unit of work",
				slog.Any("error", rbErr),
				slog.Any("cause", err),
			)
			return fmt.Errorf("%w (abort failed: %v)", err, rbErr)
		}
		s.logger.Debug("Unit of work aborted",
			slog.Any("cause", err),
		)
		return err
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	return nil
}

// State returns the current lifecycle state
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Commit makes every write of the unit of work durable
func (u *UnitOfWork) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateOpen {
		return fmt.Errorf("commit: %w (state %s)", ErrUnitOfWorkClosed, u.state)
	}

	if err := u.tx.Commit(); err != nil {
		// a failed commit leaves nothing behind
		u.state = StateAborted
		return domain.NewPersistenceError("commit transaction", err)
	}

	u.state = StateCommitted
	return nil
}

// Rollback reverts every write of the unit of work. Rolling back twice is a no-op.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case StateAborted:
		return nil
	case StateCommitted:
		return fmt.Errorf("rollback: %w (state %s)", ErrUnitOfWorkClosed, u.state)
	}

	u.state = StateAborted
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return domain.NewPersistenceError("rollback transaction", err)
	}
	return nil
}

// get runs a single-row query; sql.ErrNoRows is returned unwrapped
func (u *UnitOfWork) get(ctx context.Context, dest any, query string, args ...any) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.usable(ctx); err != nil {
		return err
	}
	return u.tx.GetContext(ctx, dest, u.tx.Rebind(query), args...)
}

func (u *UnitOfWork) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.usable(ctx); err != nil {
		return err
	}
	return u.tx.SelectContext(ctx, dest, u.tx.Rebind(query), args...)
}

func (u *UnitOfWork) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.usable(ctx); err != nil {
		return nil, err
	}
	return u.tx.ExecContext(ctx, u.tx.Rebind(query), args...)
}

// usable must be called with mu held
func (u *UnitOfWork) usable(ctx context.Context) error {
	if u.state != StateOpen {
		return ErrUnitOfWorkClosed
	}
	return ctx.Err()
}
