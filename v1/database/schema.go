package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CreateAll creates the tables of all registered models that do not exist
// yet, inside one administrative transaction.
func (d *Database) CreateAll(ctx context.Context) (err error) {
	start := time.Now()
	models := d.Models()
	defer func() {
		d.observeOperation("schema.create_all", d.capabilities.Dialect, "", time.Since(start), err, int64(len(models)), nil)
	}()

	err = d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		migrator := tx.Migrator()
		for _, model := range models {
			if migrator.HasTable(model) {
				continue
			}
			if err := migrator.CreateTable(model); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &SchemaError{Op: "create_all", Err: err}
	}
	return nil
}

// DropAll drops the tables of all registered models that exist, in reverse
// registration order, inside one administrative transaction.
func (d *Database) DropAll(ctx context.Context) (err error) {
	start := time.Now()
	models := d.Models()
	defer func() {
		d.observeOperation("schema.drop_all", d.capabilities.Dialect, "", time.Since(start), err, int64(len(models)), nil)
	}()

	err = d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		migrator := tx.Migrator()
		for i := len(models) - 1; i >= 0; i-- {
			if !migrator.HasTable(models[i]) {
				continue
			}
			if err := migrator.DropTable(models[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &SchemaError{Op: "drop_all", Err: err}
	}
	return nil
}
