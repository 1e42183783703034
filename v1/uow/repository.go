package uow

import (
	"context"
	"iter"

	"github.com/Aleph-Alpha/sqlscope/v1/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope narrows a repository query, in the form accepted by gorm.DB.Scopes.
type Scope = func(*gorm.DB) *gorm.DB

// Repository is the base of entity repositories. It holds the engine only;
// every method resolves the session bound to ctx when it is called, so one
// Repository value can be shared by any number of scopes.
//
// Methods fail with database.ErrNoActiveScope when ctx carries no scope.
// Driver errors are translated with database.TranslateError.
//
// Typical use embeds it:
//
//	type OrderRepository struct {
//	    *uow.Repository[Order]
//	}
//
//	func (r *OrderRepository) Open(ctx context.Context) ([]Order, error) {
//	    return r.List(ctx, func(tx *gorm.DB) *gorm.DB { return tx.Where("status = ?", "open") })
//	}
type Repository[T any] struct {
	db database.Client
}

// NewRepository returns a repository for T over db.
func NewRepository[T any](db database.Client) *Repository[T] {
	return &Repository[T]{db: db}
}

// Client returns the engine the repository was built with.
func (r *Repository[T]) Client() database.Client {
	return r.db
}

// Session returns a GORM handle bound to the current session's transaction.
// Use it for queries the base methods do not cover.
func (r *Repository[T]) Session(ctx context.Context) (*gorm.DB, error) {
	session, err := r.db.Current(ctx)
	if err != nil {
		return nil, err
	}
	return session.DB(ctx)
}

// Get loads the entity whose primary key equals id.
// A missing row yields an error matching database.ErrRecordNotFound.
func (r *Repository[T]) Get(ctx context.Context, id interface{}) (*T, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}

	var entity T
	if err := tx.Where(clause.Eq{Column: clause.PrimaryColumn, Value: id}).First(&entity).Error; err != nil {
		return nil, database.TranslateError(err)
	}
	return &entity, nil
}

// First returns the first entity matching scopes, ordered by primary key.
func (r *Repository[T]) First(ctx context.Context, scopes ...Scope) (*T, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}

	var entity T
	if err := tx.Scopes(scopes...).First(&entity).Error; err != nil {
		return nil, database.TranslateError(err)
	}
	return &entity, nil
}

// List returns all entities matching scopes.
func (r *Repository[T]) List(ctx context.Context, scopes ...Scope) ([]T, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}

	var entities []T
	if err := tx.Scopes(scopes...).Find(&entities).Error; err != nil {
		return nil, database.TranslateError(err)
	}
	return entities, nil
}

// Count returns the number of entities matching scopes.
func (r *Repository[T]) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := tx.Model(new(T)).Scopes(scopes...).Count(&n).Error; err != nil {
		return 0, database.TranslateError(err)
	}
	return n, nil
}

// Create inserts entity. Generated columns are written back into it.
func (r *Repository[T]) Create(ctx context.Context, entity *T) error {
	tx, err := r.Session(ctx)
	if err != nil {
		return err
	}
	return database.TranslateError(tx.Create(entity).Error)
}

// CreateBatch inserts entities in batches of batchSize rows.
func (r *Repository[T]) CreateBatch(ctx context.Context, entities []T, batchSize int) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := r.Session(ctx)
	if err != nil {
		return err
	}
	return database.TranslateError(tx.CreateInBatches(entities, batchSize).Error)
}

// Upsert inserts entity with the conflict handling in opts, using the insert
// variant of the engine's dialect. It returns the number of rows written,
// which is zero when a conflicting row was skipped.
func (r *Repository[T]) Upsert(ctx context.Context, entity *T, opts database.InsertOptions) (int64, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return 0, err
	}

	result := r.db.Capabilities().Insert(tx, entity, opts)
	if result.Error != nil {
		return 0, database.TranslateError(result.Error)
	}
	return result.RowsAffected, nil
}

// Save updates every column of entity, inserting it when its primary key is zero.
func (r *Repository[T]) Save(ctx context.Context, entity *T) error {
	tx, err := r.Session(ctx)
	if err != nil {
		return err
	}
	return database.TranslateError(tx.Save(entity).Error)
}

// Update applies values (a struct or a map) to entity's row and returns the
// number of rows affected. Zero fields of a struct are skipped.
func (r *Repository[T]) Update(ctx context.Context, entity *T, values interface{}) (int64, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return 0, err
	}

	result := tx.Model(entity).Updates(values)
	if result.Error != nil {
		return 0, database.TranslateError(result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes entity's row.
func (r *Repository[T]) Delete(ctx context.Context, entity *T) (int64, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return 0, err
	}

	result := tx.Delete(entity)
	if result.Error != nil {
		return 0, database.TranslateError(result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteByID removes the row whose primary key equals id.
func (r *Repository[T]) DeleteByID(ctx context.Context, id interface{}) (int64, error) {
	tx, err := r.Session(ctx)
	if err != nil {
		return 0, err
	}

	result := tx.Where(clause.Eq{Column: clause.PrimaryColumn, Value: id}).Delete(new(T))
	if result.Error != nil {
		return 0, database.TranslateError(result.Error)
	}
	return result.RowsAffected, nil
}

// Stream yields the entities matching scopes one row at a time. The cursor
// is closed when the consumer stops ranging.
func (r *Repository[T]) Stream(ctx context.Context, scopes ...Scope) iter.Seq2[T, error] {
	if !r.db.InScope(ctx) {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, database.ErrNoActiveScope)
		}
	}
	return database.StreamRows[T](ctx, r.db, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(new(T)).Scopes(scopes...)
	})
}
