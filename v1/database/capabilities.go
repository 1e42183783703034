package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertVariant identifies the dialect specific insert statement builder.
type InsertVariant int

const (
	InsertGeneric InsertVariant = iota
	InsertPostgres
	InsertSQLite
)

func (v InsertVariant) String() string {
	switch v {
	case InsertPostgres:
		return "postgres"
	case InsertSQLite:
		return "sqlite"
	default:
		return "generic"
	}
}

// Capabilities describes what the connected dialect supports.
// It is computed once when the Database is constructed.
type Capabilities struct {
	Dialect            string
	SupportsReturning  bool
	SupportsOnConflict bool
	InsertVariant      InsertVariant
}

// sqliteReturningVersion is the first sqlite release with RETURNING.
var sqliteReturningVersion = [3]int{3, 35, 0}

// DetectCapabilities applies the capability policy to a dialect name.
// sqliteVersion is only consulted for sqlite and is normally the version of
// the linked library, see LinkedSQLiteVersion.
//
//	postgres → returning, on-conflict, postgres insert
//	sqlite   → on-conflict, returning from 3.35.0, sqlite insert
//	other    → neither, generic insert
func DetectCapabilities(dialect, sqliteVersion string) Capabilities {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return Capabilities{
			Dialect:            DialectPostgres,
			SupportsReturning:  true,
			SupportsOnConflict: true,
			InsertVariant:      InsertPostgres,
		}
	case "sqlite", "sqlite3":
		return Capabilities{
			Dialect:            DialectSQLite,
			SupportsReturning:  versionAtLeast(sqliteVersion, sqliteReturningVersion),
			SupportsOnConflict: true,
			InsertVariant:      InsertSQLite,
		}
	default:
		return Capabilities{Dialect: dialect, InsertVariant: InsertGeneric}
	}
}

// LinkedSQLiteVersion returns the version of the sqlite library compiled into the driver.
func LinkedSQLiteVersion() string {
	version, _, _ := sqlite3.Version()
	return version
}

// versionAtLeast compares a dotted version against want. Unparseable
// components count as zero.
func versionAtLeast(version string, want [3]int) bool {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	for i := 0; i < 3; i++ {
		got := 0
		if i < len(parts) {
			got, _ = strconv.Atoi(parts[i])
		}
		if got != want[i] {
			return got > want[i]
		}
	}
	return true
}

// ConflictAction selects what an insert does when it hits a unique constraint.
type ConflictAction int

const (
	// ConflictNone issues a plain insert.
	ConflictNone ConflictAction = iota

	// ConflictDoNothing skips conflicting rows.
	ConflictDoNothing

	// ConflictUpdate overwrites InsertOptions.UpdateColumns of the existing row.
	ConflictUpdate

	// ConflictUpdateAll overwrites every non-key column of the existing row.
	ConflictUpdateAll
)

// InsertOptions configures Capabilities.Insert.
type InsertOptions struct {
	OnConflict ConflictAction

	// ConflictColumns is the conflict target. Empty means the primary key.
	ConflictColumns []string

	// ConflictConstraint names the constraint to use as conflict target.
	// Only the postgres variant supports it.
	ConflictConstraint string

	// UpdateColumns lists the columns overwritten by ConflictUpdate.
	UpdateColumns []string

	// Returning lists the columns to read back into the value. It is ignored
	// when the dialect cannot return rows from writes.
	Returning []string
}

// Insert creates value through tx with the statement variant of the dialect.
// Conflict handling on a dialect without on-conflict support fails with
// ErrUnsupportedFeature.
func (c Capabilities) Insert(tx *gorm.DB, value interface{}, opts InsertOptions) *gorm.DB {
	var clauses []clause.Expression

	if opts.OnConflict != ConflictNone {
		onConflict, err := c.onConflict(opts)
		if err != nil {
			tx = tx.Session(&gorm.Session{})
			_ = tx.AddError(err)
			return tx
		}
		clauses = append(clauses, onConflict)
	}

	if len(opts.Returning) > 0 && c.SupportsReturning {
		returning := clause.Returning{}
		for _, column := range opts.Returning {
			returning.Columns = append(returning.Columns, clause.Column{Name: column})
		}
		clauses = append(clauses, returning)
	}

	if len(clauses) > 0 {
		tx = tx.Clauses(clauses...)
	}
	return tx.Create(value)
}

func (c Capabilities) onConflict(opts InsertOptions) (clause.OnConflict, error) {
	if !c.SupportsOnConflict {
		return clause.OnConflict{}, fmt.Errorf("%w: on-conflict insert on %s", ErrUnsupportedFeature, c.Dialect)
	}

	onConflict := clause.OnConflict{}
	for _, column := range opts.ConflictColumns {
		onConflict.Columns = append(onConflict.Columns, clause.Column{Name: column})
	}

	if opts.ConflictConstraint != "" {
		if c.InsertVariant != InsertPostgres {
			return clause.OnConflict{}, fmt.Errorf("%w: named conflict constraint on %s", ErrUnsupportedFeature, c.Dialect)
		}
		onConflict.OnConstraint = opts.ConflictConstraint
	}

	switch opts.OnConflict {
	case ConflictDoNothing:
		onConflict.DoNothing = true
	case ConflictUpdate:
		if len(opts.UpdateColumns) == 0 {
			return clause.OnConflict{}, fmt.Errorf("%w: conflict update without update columns", ErrInvalidData)
		}
		onConflict.DoUpdates = clause.AssignmentColumns(opts.UpdateColumns)
	case ConflictUpdateAll:
		onConflict.UpdateAll = true
	}
	return onConflict, nil
}
