package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is a unit of database interaction: a lazily started transaction on
// one pooled connection. Statements issued through the same Session run in
// the order they were issued. A Session is not meant to be shared between
// goroutines that are not part of the same logical task.
type Session struct {
	id       uuid.UUID
	db       *Database
	ctx      context.Context
	openedAt time.Time

	mu         sync.Mutex
	tx         *gorm.DB
	savepoints []string
	seq        int
	closed     bool
}

// NewSession returns a fresh session that is not bound to any scope.
// The transaction is started on first use and carries ctx's values but not
// its cancellation: only Commit, Rollback or Close end it. Statements are
// still cancelled through the context passed to DB.
func (d *Database) NewSession(ctx context.Context) *Session {
	return &Session{
		id:       uuid.New(),
		db:       d,
		ctx:      ctx,
		openedAt: time.Now(),
	}
}

// ID identifies the session in logs and metrics.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Database returns the engine the session belongs to.
func (s *Session) Database() *Database {
	return s.db
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// InTransaction reports whether a transaction has been started and not yet ended.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// DB returns a GORM handle bound to the session transaction, starting the
// transaction if needed. Statements run with ctx.
func (s *Session) DB(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.WithContext(ctx), nil
}

// begin starts the transaction on first use. Callers hold s.mu.
func (s *Session) begin(ctx context.Context) (*gorm.DB, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// database/sql rolls back a transaction whose context is cancelled and
	// discards its connection, which would also drop an in-memory database.
	tx := s.db.client.WithContext(context.WithoutCancel(s.ctx)).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	s.tx = tx
	return tx, nil
}

// Commit commits the session transaction. A session without a started
// transaction commits trivially. The transaction is finished after Commit
// whether it succeeded or not.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil
	s.savepoints = nil
	return tx.Session(&gorm.Session{}).Commit().Error
}

// Rollback discards the session transaction. Rolling back a session without a
// transaction, or one the driver already ended, is a no-op.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollback()
}

func (s *Session) rollback() error {
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil
	s.savepoints = nil
	err := tx.Session(&gorm.Session{}).Rollback().Error
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Close rolls back any pending transaction and marks the session closed.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.rollback()
}
