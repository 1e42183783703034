package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCapabilities(t *testing.T) {
	tests := []struct {
		dialect       string
		sqliteVersion string
		want          Capabilities
	}{
		{"postgres", "", Capabilities{Dialect: DialectPostgres, SupportsReturning: true, SupportsOnConflict: true, InsertVariant: InsertPostgres}},
		{"postgresql", "", Capabilities{Dialect: DialectPostgres, SupportsReturning: true, SupportsOnConflict: true, InsertVariant: InsertPostgres}},
		{"sqlite", "3.45.1", Capabilities{Dialect: DialectSQLite, SupportsReturning: true, SupportsOnConflict: true, InsertVariant: InsertSQLite}},
		{"sqlite", "3.35.0", Capabilities{Dialect: DialectSQLite, SupportsReturning: true, SupportsOnConflict: true, InsertVariant: InsertSQLite}},
		{"sqlite3", "3.34.1", Capabilities{Dialect: DialectSQLite, SupportsReturning: false, SupportsOnConflict: true, InsertVariant: InsertSQLite}},
		{"sqlite", "", Capabilities{Dialect: DialectSQLite, SupportsReturning: false, SupportsOnConflict: true, InsertVariant: InsertSQLite}},
		{"mysql", "3.45.1", Capabilities{Dialect: "mysql", InsertVariant: InsertGeneric}},
		{"oracle", "", Capabilities{Dialect: "oracle", InsertVariant: InsertGeneric}},
	}

	for _, tt := range tests {
		t.Run(tt.dialect+"/"+tt.sqliteVersion, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCapabilities(tt.dialect, tt.sqliteVersion))
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	want := [3]int{3, 35, 0}
	assert.True(t, versionAtLeast("3.35.0", want))
	assert.True(t, versionAtLeast("3.35.5", want))
	assert.True(t, versionAtLeast("4.0", want))
	assert.True(t, versionAtLeast("3.100.0", want))
	assert.False(t, versionAtLeast("3.34.9", want))
	assert.False(t, versionAtLeast("3.9.0", want))
	assert.False(t, versionAtLeast("garbage", want))
}

func TestInsertVariantString(t *testing.T) {
	assert.Equal(t, "postgres", InsertPostgres.String())
	assert.Equal(t, "sqlite", InsertSQLite.String())
	assert.Equal(t, "generic", InsertGeneric.String())
}

func TestLinkedSQLiteVersionSupportsReturning(t *testing.T) {
	db := newTestDatabase(t)

	assert.NotEmpty(t, LinkedSQLiteVersion())
	assert.Equal(t, DetectCapabilities(DialectSQLite, LinkedSQLiteVersion()), db.Capabilities())
}

func TestInsertOnConflict(t *testing.T) {
	db := newTestDatabase(t)
	caps := db.Capabilities()

	require.NoError(t, db.Scope(context.Background(), func(ctx context.Context) error {
		session, err := db.Current(ctx)
		require.NoError(t, err)
		tx, err := session.DB(ctx)
		require.NoError(t, err)

		require.NoError(t, caps.Insert(tx, &widget{Name: "a", Tags: []string{"v1"}}, InsertOptions{}).Error)

		skipped := caps.Insert(tx, &widget{Name: "a", Tags: []string{"v2"}}, InsertOptions{
			OnConflict:      ConflictDoNothing,
			ConflictColumns: []string{"name"},
		})
		require.NoError(t, skipped.Error)
		assert.Equal(t, int64(0), skipped.RowsAffected)

		require.NoError(t, caps.Insert(tx, &widget{Name: "a", Tags: []string{"v3"}}, InsertOptions{
			OnConflict:      ConflictUpdate,
			ConflictColumns: []string{"name"},
			UpdateColumns:   []string{"tags"},
		}).Error)

		var got widget
		require.NoError(t, tx.Where("name = ?", "a").First(&got).Error)
		assert.Equal(t, []string{"v3"}, got.Tags)
		return nil
	}))
}

func TestInsertReturning(t *testing.T) {
	db := newTestDatabase(t)
	caps := db.Capabilities()
	if !caps.SupportsReturning {
		t.Skip("linked sqlite has no RETURNING")
	}

	row := widget{Name: "returned"}
	require.NoError(t, caps.Insert(db.DB(), &row, InsertOptions{Returning: []string{"id"}}).Error)
	assert.NotZero(t, row.ID)
}

func TestInsertUnsupportedConflictHandling(t *testing.T) {
	db := newTestDatabase(t)
	generic := DetectCapabilities("mysql", "")

	result := generic.Insert(db.DB(), &widget{Name: "x"}, InsertOptions{OnConflict: ConflictDoNothing})
	assert.ErrorIs(t, result.Error, ErrUnsupportedFeature)
	assert.Equal(t, int64(0), countWidgets(t, db))

	// The base handle is not poisoned by the failed insert.
	assert.NoError(t, db.DB().Create(&widget{Name: "y"}).Error)

	result = db.Capabilities().Insert(db.DB(), &widget{Name: "z"}, InsertOptions{
		OnConflict:         ConflictDoNothing,
		ConflictConstraint: "widgets_name_key",
	})
	assert.ErrorIs(t, result.Error, ErrUnsupportedFeature)

	result = db.Capabilities().Insert(db.DB(), &widget{Name: "z"}, InsertOptions{OnConflict: ConflictUpdate})
	assert.ErrorIs(t, result.Error, ErrInvalidData)
}
