package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
)

// NestedTransaction is a savepoint inside a session transaction.
// Ending it affects only the work done since it was opened; the enclosing
// session transaction stays open either way.
type NestedTransaction struct {
	session  *Session
	name     string
	level    int
	openedAt time.Time
	done     bool
}

// BeginNested opens a savepoint in the session transaction, starting the
// transaction first if needed. It fails with ErrUnsupportedNesting when the
// dialect has no savepoints or Config.MaxNestingDepth savepoints are open.
func (s *Session) BeginNested(ctx context.Context) (*NestedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.db.client.Dialector.(gorm.SavePointerDialectorInterface); !ok {
		return nil, fmt.Errorf("%w: dialect %s has no savepoints", ErrUnsupportedNesting, s.db.client.Dialector.Name())
	}
	if limit := s.db.cfg.MaxNestingDepth; len(s.savepoints) >= limit {
		return nil, fmt.Errorf("%w: nesting depth %d reached", ErrUnsupportedNesting, limit)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	s.seq++
	name := fmt.Sprintf("sp_%d", s.seq)
	if err := tx.WithContext(ctx).Exec("SAVEPOINT " + name).Error; err != nil {
		return nil, fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	s.savepoints = append(s.savepoints, name)

	return &NestedTransaction{
		session:  s,
		name:     name,
		level:    len(s.savepoints),
		openedAt: time.Now(),
	}, nil
}

// Name returns the savepoint name.
func (n *NestedTransaction) Name() string {
	return n.name
}

// Level is the nesting depth, 1 for the outermost savepoint.
func (n *NestedTransaction) Level() int {
	return n.level
}

// Commit releases the savepoint, keeping its work in the session transaction.
// Savepoints opened after it are released with it.
func (n *NestedTransaction) Commit(ctx context.Context) error {
	return n.finish(ctx, false)
}

// Rollback discards the work done since the savepoint was opened.
func (n *NestedTransaction) Rollback(ctx context.Context) error {
	return n.finish(ctx, true)
}

// End rolls back when err is non-nil and commits otherwise. It returns err,
// joined with the failure of ending the savepoint if any.
func (n *NestedTransaction) End(ctx context.Context, err error) error {
	if err != nil {
		return withReleaseError(err, n.Rollback(ctx))
	}
	return n.Commit(ctx)
}

func (n *NestedTransaction) finish(ctx context.Context, rollback bool) (err error) {
	s := n.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.done {
		return ErrTransactionDone
	}
	n.done = true

	idx := slices.Index(s.savepoints, n.name)
	if idx < 0 || s.tx == nil {
		return ErrTransactionDone
	}
	s.savepoints = s.savepoints[:idx]

	defer func() {
		outcome := "commit"
		if rollback {
			outcome = "rollback"
		}
		s.db.observeOperation("transaction.nested", s.db.capabilities.Dialect, outcome,
			time.Since(n.openedAt), err, int64(n.level), nil)
	}()

	tx := s.tx.WithContext(ctx)
	if rollback {
		if err := tx.Exec("ROLLBACK TO SAVEPOINT " + n.name).Error; err != nil {
			return fmt.Errorf("failed to roll back to savepoint %s: %w", n.name, err)
		}
	}
	if err := tx.Exec("RELEASE SAVEPOINT " + n.name).Error; err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", n.name, err)
	}
	return nil
}

// BeginNested opens a savepoint in the session bound to ctx.
func (d *Database) BeginNested(ctx context.Context) (*NestedTransaction, error) {
	session, err := d.Current(ctx)
	if err != nil {
		return nil, err
	}
	return session.BeginNested(ctx)
}

// Nested runs fn inside a savepoint of the session bound to ctx. The
// savepoint is released when fn returns nil and rolled back when fn returns
// an error or panics.
func (d *Database) Nested(ctx context.Context, fn func(ctx context.Context) error) error {
	nested, err := d.BeginNested(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rollbackErr := nested.Rollback(ctx); rollbackErr != nil {
				d.logger.Error("failed to roll back savepoint after panic", rollbackErr, nil)
			}
			panic(r)
		}
	}()

	return nested.End(ctx, fn(ctx))
}
