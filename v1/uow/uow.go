package uow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/Aleph-Alpha/sqlscope/v1/database"
	"github.com/Aleph-Alpha/sqlscope/v1/observability"
)

// State is the lifecycle state of a UnitOfWork.
type State int

const (
	Idle State = iota
	Active
	Committing
	RollingBack
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Committing:
		return "committing"
	case RollingBack:
		return "rolling_back"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Logger receives failures that are not returned to the caller because
// RaiseOnError is disabled.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, error, ...map[string]interface{})  {}
func (nopLogger) Warn(string, error, ...map[string]interface{})  {}
func (nopLogger) Error(string, error, ...map[string]interface{}) {}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithAutoCommit controls whether End commits a unit of work that finished
// without error. Defaults to true. When disabled, work that was not committed
// explicitly is rolled back.
func WithAutoCommit(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.autoCommit = enabled
	}
}

// WithRaiseOnError controls whether commit and rollback failures are returned
// to the caller. When disabled they are logged and swallowed. Defaults to true.
func WithRaiseOnError(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.raiseOnError = enabled
	}
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(logger Logger) Option {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithObserver reports the end of every unit of work to o.
func WithObserver(o observability.Observer) Option {
	return func(u *UnitOfWork) {
		u.observer = o
	}
}

// UnitOfWork groups the statements of one business operation into a single
// scoped session and gives access to repositories by name.
//
// Begin binds a fresh session to the returned context. Repositories resolve
// that session on every call, so they must be used with the returned context.
// End commits or rolls back, closes the session and clears the binding.
//
// A UnitOfWork is used by one task at a time. It may be begun again after it
// was closed; repositories resolved earlier stay cached.
type UnitOfWork struct {
	db           database.Client
	registry     *Registry
	autoCommit   bool
	raiseOnError bool
	logger       Logger
	observer     observability.Observer

	mu      sync.Mutex
	state   State
	ctx     context.Context
	scoped  *database.ScopedSession
	beganAt time.Time
	repoMu  sync.Mutex
	repos   map[string]interface{}
}

// New creates an idle unit of work over db. A nil registry behaves like an
// empty one.
func New(db database.Client, registry *Registry, opts ...Option) *UnitOfWork {
	if registry == nil {
		registry = NewRegistry()
	}
	u := &UnitOfWork{
		db:           db,
		registry:     registry,
		autoCommit:   true,
		raiseOnError: true,
		logger:       nopLogger{},
		repos:        make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Begin enters a new scope and returns the context carrying it.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Idle && u.state != Closed {
		return ctx, ErrAlreadyActive
	}

	scopedCtx, scoped, err := u.db.EnterScope(ctx)
	if err != nil {
		return ctx, err
	}

	u.ctx = scopedCtx
	u.scoped = scoped
	u.beganAt = time.Now()
	u.state = Active
	return scopedCtx, nil
}

// Context returns the context bound by the last Begin. It is nil before the
// first Begin.
func (u *UnitOfWork) Context() context.Context {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ctx
}

// End finishes the unit of work. cause is the error the work ended with,
// nil on success.
//
// The session is rolled back when cause is non-nil or the scope context was
// cancelled. Otherwise it is committed when auto-commit is enabled, with a
// rollback if the commit fails, and rolled back when it is not. The scope is
// then released, which closes the session and clears the binding, even if
// the previous step failed.
//
// Commit and rollback failures are returned as *database.SessionTeardownError
// when RaiseOnError is set and logged otherwise. Release failures are always
// returned. End does not return cause.
func (u *UnitOfWork) End(cause error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Active {
		return ErrNotActive
	}

	session := u.scoped.Session()
	var (
		stepErr error
		op      string
	)

	switch {
	case cause != nil || u.ctx.Err() != nil:
		u.state = RollingBack
		op = "rollback"
		stepErr = session.Rollback()
	case u.autoCommit:
		u.state = Committing
		op = "commit"
		if err := session.Commit(); err != nil {
			stepErr = errors.Join(err, session.Rollback())
		}
	default:
		u.state = RollingBack
		op = "rollback"
		stepErr = session.Rollback()
	}

	// Nothing is pending any more, so releasing with a rollback only closes
	// the session and clears the binding.
	releaseErr := u.scoped.Release(database.OutcomeRollback)

	u.state = Closed
	u.observe(op, time.Since(u.beganAt), errors.Join(stepErr, releaseErr))
	u.scoped = nil

	if stepErr != nil {
		teardownErr := &database.SessionTeardownError{Op: op, Err: stepErr}
		if u.raiseOnError {
			return errors.Join(teardownErr, releaseErr)
		}
		u.logger.Error("unit of work "+op+" failed", teardownErr, map[string]interface{}{
			"session_id": session.ID().String(),
		})
	}
	return releaseErr
}

// Do runs fn inside Begin and End. A panic in fn rolls back and is re-raised.
// The returned error joins fn's error with any teardown failure.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	scopedCtx, err := u.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if endErr := u.End(fmt.Errorf("panic: %v", r)); endErr != nil {
				u.logger.Error("failed to end unit of work after panic", endErr, nil)
			}
			panic(r)
		}
	}()

	fnErr := fn(scopedCtx)
	endErr := u.End(fnErr)
	if fnErr == nil {
		return endErr
	}
	if endErr == nil {
		return fnErr
	}
	return errors.Join(fnErr, endErr)
}

// Commit commits the work done so far. The session stays bound and the next
// statement starts a new transaction. A failed commit is followed by a
// rollback; the failure is returned unless RaiseOnError is disabled.
func (u *UnitOfWork) Commit() error {
	session, err := u.active()
	if err != nil {
		return err
	}

	if commitErr := session.Commit(); commitErr != nil {
		err := errors.Join(commitErr, session.Rollback())
		if u.raiseOnError {
			return err
		}
		u.logger.Error("unit of work commit failed", err, map[string]interface{}{
			"session_id": session.ID().String(),
		})
	}
	return nil
}

// Rollback discards the work done since the last commit. Rolling back with
// nothing pending is a no-op.
func (u *UnitOfWork) Rollback() error {
	session, err := u.active()
	if err != nil {
		return err
	}

	if rollbackErr := session.Rollback(); rollbackErr != nil {
		if u.raiseOnError {
			return rollbackErr
		}
		u.logger.Error("unit of work rollback failed", rollbackErr, map[string]interface{}{
			"session_id": session.ID().String(),
		})
	}
	return nil
}

// Session returns the session bound by Begin. It fails with
// database.ErrNoActiveScope when the unit of work is not active.
func (u *UnitOfWork) Session() (*database.Session, error) {
	u.mu.Lock()
	ctx := u.ctx
	u.mu.Unlock()

	if ctx == nil {
		return nil, database.ErrNoActiveScope
	}
	return u.db.Current(ctx)
}

func (u *UnitOfWork) active() (*database.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Active {
		return nil, ErrNotActive
	}
	return u.scoped.Session(), nil
}

// Repository returns the repository registered under name, building it on
// first use. The instance is cached for the lifetime of the unit of work.
func (u *UnitOfWork) Repository(name string) (interface{}, error) {
	u.repoMu.Lock()
	defer u.repoMu.Unlock()

	if repo, ok := u.repos[name]; ok {
		return repo, nil
	}

	factory, ok := u.registry.Lookup(name)
	if !ok {
		declared := u.registry.IsDeclared(name)
		reason := "not declared"
		if declared {
			reason = "declared without a factory"
		}
		return nil, &UnresolvedRepositoryError{Name: name, Declared: declared, Reason: reason}
	}

	repo := factory(u.db)
	if isNil(repo) {
		return nil, &UnresolvedRepositoryError{Name: name, Declared: true, Reason: "factory returned nil"}
	}
	u.repos[name] = repo
	return repo, nil
}

// Get returns the repository registered under name as R.
func Get[R any](u *UnitOfWork, name string) (R, error) {
	var zero R

	repo, err := u.Repository(name)
	if err != nil {
		return zero, err
	}
	typed, ok := repo.(R)
	if !ok {
		return zero, &UnresolvedRepositoryError{
			Name:     name,
			Declared: true,
			Reason:   fmt.Sprintf("registered as %T, not %s", repo, reflect.TypeFor[R]()),
		}
	}
	return typed, nil
}

func (u *UnitOfWork) observe(outcome string, duration time.Duration, err error) {
	if u.observer == nil {
		return
	}
	u.observer.ObserveOperation(observability.OperationContext{
		Component:   "uow",
		Operation:   "end",
		SubResource: outcome,
		Duration:    duration,
		Error:       err,
	})
}

// isNil also catches typed nils, such as a nil *T returned through Factory.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
