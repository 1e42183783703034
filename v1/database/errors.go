package database

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Errors returned by the scope manager and the transaction helpers.
var (
	// ErrNoActiveScope is returned when no session is bound to the context.
	ErrNoActiveScope = errors.New("database: no active session scope")

	// ErrScopeActive is returned when a scope is entered on a context that already carries one.
	ErrScopeActive = errors.New("database: session scope already active")

	// ErrUnsupportedNesting is returned when a savepoint cannot be opened.
	ErrUnsupportedNesting = errors.New("database: nested transactions not supported")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("database: session closed")

	// ErrTransactionDone is returned when a nested transaction is ended twice
	// or after an enclosing savepoint was ended.
	ErrTransactionDone = errors.New("database: transaction already ended")

	// ErrUnsupportedDialect is returned for connection URLs of unknown dialects.
	ErrUnsupportedDialect = errors.New("database: unsupported dialect")

	// ErrUnsupportedFeature is returned when a statement variant is not available on the dialect.
	ErrUnsupportedFeature = errors.New("database: feature not supported by dialect")
)

// Normalized data errors produced by TranslateError.
var (
	// ErrRecordNotFound is returned when a lookup matches no row.
	ErrRecordNotFound = errors.New("database: record not found")

	// ErrDuplicateKey is returned on unique or primary key violations.
	ErrDuplicateKey = errors.New("database: duplicate key")

	// ErrForeignKey is returned on foreign key violations.
	ErrForeignKey = errors.New("database: foreign key violation")

	// ErrInvalidData is returned for values the database or the caller rejected.
	ErrInvalidData = errors.New("database: invalid data")
)

// SessionTeardownError reports a failure while ending a session.
// Op is "commit", "rollback" or "close".
type SessionTeardownError struct {
	Op  string
	Err error
}

func (e *SessionTeardownError) Error() string {
	return fmt.Sprintf("database: session %s failed: %v", e.Op, e.Err)
}

func (e *SessionTeardownError) Unwrap() error {
	return e.Err
}

// SchemaError reports a failed CreateAll or DropAll.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("database: %s failed: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgNotNullViolation     = "23502"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry  = 1062
	mysqlNoReferencedRow = 1452
	mysqlRowIsReferenced = 1451
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlBadNull         = 1048
	mysqlDataTooLong     = 1406
	mysqlCheckConstraint = 3819
)

// TranslateError normalizes GORM and driver errors to the sentinels of this package.
// The returned error wraps both the sentinel and the original error.
// Errors it does not recognize are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	if sentinel := classify(err); sentinel != nil {
		if errors.Is(err, sentinel) {
			return err
		}
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	case errors.Is(err, ErrForeignKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrForeignKey
	case errors.Is(err, ErrInvalidData), errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidValue), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return ErrInvalidData
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateKey
		case pgForeignKeyViolation:
			return ErrForeignKey
		case pgNotNullViolation, pgCheckViolation:
			return ErrInvalidData
		}
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicateKey
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		case sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
			return ErrInvalidData
		}
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDuplicateEntry:
			return ErrDuplicateKey
		case mysqlNoReferencedRow, mysqlRowIsReferenced:
			return ErrForeignKey
		case mysqlBadNull, mysqlDataTooLong, mysqlCheckConstraint:
			return ErrInvalidData
		}
	}
	return nil
}

// IsRetryable reports whether the failed unit of work may succeed when run again:
// serialization failures, deadlocks and lock timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDeadlock || mysqlErr.Number == mysqlLockWaitTimeout
	}
	return false
}
