package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome selects how ScopedSession.Release ends the session.
type Outcome int

const (
	// OutcomeRollback discards the session's work.
	OutcomeRollback Outcome = iota

	// OutcomeCommit commits the session's work.
	OutcomeCommit
)

func (o Outcome) String() string {
	if o == OutcomeCommit {
		return "commit"
	}
	return "rollback"
}

// scopeKey keys the binding of one Database in a context.
type scopeKey struct {
	db *Database
}

// binding is the cell published in the context. Release empties it, so every
// context derived from the scope observes the release.
type binding struct {
	mu      sync.RWMutex
	session *Session
}

func (b *binding) get() *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

func (b *binding) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = nil
}

// ScopedSession is a session published in a context for the duration of a scope.
type ScopedSession struct {
	db        *Database
	session   *Session
	binding   *binding
	enteredAt time.Time

	once       sync.Once
	releaseErr error
}

// EnterScope creates a fresh session and publishes it in the returned
// context. Every call made with that context (or one derived from it)
// resolves the same session through Current. Contexts of concurrent tasks
// that entered their own scope see their own session.
//
// Entering a scope on a context that already carries an active scope of the
// same Database fails with ErrScopeActive; use BeginNested for nested work.
//
// The caller must call Release exactly once, typically with defer.
func (d *Database) EnterScope(ctx context.Context) (context.Context, *ScopedSession, error) {
	if b, ok := ctx.Value(scopeKey{db: d}).(*binding); ok && b.get() != nil {
		return ctx, nil, ErrScopeActive
	}

	session := d.NewSession(ctx)
	b := &binding{session: session}
	scoped := &ScopedSession{
		db:        d,
		session:   session,
		binding:   b,
		enteredAt: time.Now(),
	}

	d.observeOperation("scope.enter", d.capabilities.Dialect, "", 0, nil, 0, map[string]interface{}{
		"session_id": session.ID().String(),
	})
	return context.WithValue(ctx, scopeKey{db: d}, b), scoped, nil
}

// Current returns the session bound to ctx.
// It fails with ErrNoActiveScope outside a scope or after the scope was released.
func (d *Database) Current(ctx context.Context) (*Session, error) {
	b, ok := ctx.Value(scopeKey{db: d}).(*binding)
	if !ok {
		return nil, ErrNoActiveScope
	}
	session := b.get()
	if session == nil {
		return nil, ErrNoActiveScope
	}
	return session, nil
}

// InScope reports whether ctx carries an active scope of d.
func (d *Database) InScope(ctx context.Context) bool {
	_, err := d.Current(ctx)
	return err == nil
}

// Session returns the scoped session.
func (s *ScopedSession) Session() *Session {
	return s.session
}

// Release ends the scope. With OutcomeCommit the session is committed, and a
// failed commit is followed by a rollback. With OutcomeRollback the session is
// rolled back. In every case the session is then closed and the binding is
// cleared, even when an earlier step failed.
//
// Release does not take a context: commit and rollback run to completion
// regardless of the scope context's cancellation. Failures are reported as
// *SessionTeardownError. Only the first call has an effect.
func (s *ScopedSession) Release(outcome Outcome) error {
	s.once.Do(func() {
		s.releaseErr = s.release(outcome)
	})
	return s.releaseErr
}

func (s *ScopedSession) release(outcome Outcome) (err error) {
	defer func() {
		s.binding.clear()
		s.db.observeOperation("scope.release", s.db.capabilities.Dialect, outcome.String(),
			time.Since(s.enteredAt), err, 0, map[string]interface{}{
				"session_id": s.session.ID().String(),
			})
	}()

	switch outcome {
	case OutcomeCommit:
		if commitErr := s.session.Commit(); commitErr != nil {
			rollbackErr := s.session.Rollback()
			err = &SessionTeardownError{Op: "commit", Err: errors.Join(commitErr, rollbackErr)}
		}
	default:
		if rollbackErr := s.session.Rollback(); rollbackErr != nil {
			err = &SessionTeardownError{Op: "rollback", Err: rollbackErr}
		}
	}

	if closeErr := s.session.Close(); closeErr != nil {
		err = errors.Join(err, &SessionTeardownError{Op: "close", Err: closeErr})
	}
	return err
}

// Scope runs fn inside a new scope. The session is committed when fn returns
// nil and rolled back when fn returns an error, panics, or ctx is cancelled.
// A panic is re-raised after the rollback.
func (d *Database) Scope(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	scopedCtx, scoped, err := d.EnterScope(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if releaseErr := scoped.Release(OutcomeRollback); releaseErr != nil {
				d.logger.Error("failed to release scope after panic", releaseErr, nil)
			}
			panic(r)
		}
	}()

	if fnErr := fn(scopedCtx); fnErr != nil {
		return withReleaseError(fnErr, scoped.Release(OutcomeRollback))
	}
	if ctxErr := scopedCtx.Err(); ctxErr != nil {
		return withReleaseError(fmt.Errorf("scope cancelled: %w", ctxErr), scoped.Release(OutcomeRollback))
	}
	return scoped.Release(OutcomeCommit)
}

// withReleaseError keeps err as is unless the release failed too.
func withReleaseError(err, releaseErr error) error {
	if releaseErr == nil {
		return err
	}
	return errors.Join(err, releaseErr)
}
