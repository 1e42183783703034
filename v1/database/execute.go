package database

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	"gorm.io/gorm"
)

// Statement builds a GORM statement on a session handle and runs it.
//
//	db.Execute(ctx, func(tx *gorm.DB) *gorm.DB {
//	    return tx.Model(&Order{}).Where("status = ?", "open").Update("status", "closed")
//	})
type Statement func(tx *gorm.DB) *gorm.DB

// Raw returns a Statement executing sql with values bound to its placeholders.
func Raw(sql string, values ...interface{}) Statement {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Exec(sql, values...)
	}
}

// errStopIteration ends a stream after the consumer stopped ranging.
var errStopIteration = errors.New("database: stream stopped")

// Execute runs stmt in the session bound to ctx. Outside a scope it runs in a
// throw-away session that is committed when the statement succeeds.
// It returns the number of rows affected.
func (d *Database) Execute(ctx context.Context, stmt Statement) (rows int64, err error) {
	start := time.Now()
	defer func() {
		d.observeOperation("execute", d.capabilities.Dialect, "", time.Since(start), err, rows, nil)
	}()

	if session, currentErr := d.Current(ctx); currentErr == nil {
		return runStatement(ctx, session, stmt)
	}

	err = d.Scope(ctx, func(ctx context.Context) error {
		session, err := d.Current(ctx)
		if err != nil {
			return err
		}
		rows, err = runStatement(ctx, session, stmt)
		return err
	})
	return rows, err
}

// Exec runs a raw SQL statement, see Execute.
func (d *Database) Exec(ctx context.Context, sql string, values ...interface{}) (int64, error) {
	return d.Execute(ctx, Raw(sql, values...))
}

func runStatement(ctx context.Context, session *Session, stmt Statement) (int64, error) {
	tx, err := session.DB(ctx)
	if err != nil {
		return 0, err
	}
	result := stmt(tx)
	return result.RowsAffected, result.Error
}

// StreamScalars runs query and yields the first column of each row as T.
//
// Rows are read one at a time from the cursor, which is closed when the rows
// are exhausted, when the consumer stops ranging, or on error. An error is
// yielded once, as the last element. Outside a scope the query runs in a
// throw-away session for the duration of the iteration.
//
//	for id, err := range database.StreamScalars[int64](ctx, db, func(tx *gorm.DB) *gorm.DB {
//	    return tx.Model(&Order{}).Select("id")
//	}) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
func StreamScalars[T any](ctx context.Context, db Client, query Statement) iter.Seq2[T, error] {
	return stream(ctx, db, query, func(tx *gorm.DB, rows *sql.Rows) (T, error) {
		var value T
		err := rows.Scan(&value)
		return value, err
	})
}

// StreamRows runs query and yields each row scanned into T by GORM's
// column mapping. Cursor handling is the same as for StreamScalars.
func StreamRows[T any](ctx context.Context, db Client, query Statement) iter.Seq2[T, error] {
	return stream(ctx, db, query, func(tx *gorm.DB, rows *sql.Rows) (T, error) {
		var value T
		err := tx.ScanRows(rows, &value)
		return value, err
	})
}

func stream[T any](ctx context.Context, db Client, query Statement, scan func(*gorm.DB, *sql.Rows) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		run := func(ctx context.Context) error {
			session, err := db.Current(ctx)
			if err != nil {
				return err
			}
			tx, err := session.DB(ctx)
			if err != nil {
				return err
			}

			q := query(tx)
			rows, err := q.Rows()
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				value, err := scan(q, rows)
				if err != nil {
					return err
				}
				if !yield(value, nil) {
					return errStopIteration
				}
			}
			return rows.Err()
		}

		var err error
		if db.InScope(ctx) {
			err = run(ctx)
		} else {
			err = db.Scope(ctx, run)
		}

		if err != nil && !errors.Is(err, errStopIteration) {
			var zero T
			yield(zero, err)
		}
	}
}
