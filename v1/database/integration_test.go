//go:build integration

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// PostgresContainer represents a Postgres container for testing
type PostgresContainer struct {
	testcontainers.Container
	URL string
}

// setupPostgresContainer starts postgres:15 on a free port and waits until it accepts connections.
func setupPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	port, err := getFreePort()
	if err != nil {
		return nil, fmt.Errorf("could not get free port: %w", err)
	}

	req := testcontainers.ContainerRequest{
		Image: "postgres:15",
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		ExposedPorts: []string{"5432/tcp"},
		HostConfigModifier: func(cfg *container.HostConfig) {
			cfg.PortBindings = nat.PortMap{
				"5432/tcp": []nat.PortBinding{{HostPort: fmt.Sprintf("%d", port)}},
			}
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := pg.Host(ctx)
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	mappedPort, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	if err := waitForPostgresReady(host, mappedPort.Port(), 30*time.Second); err != nil {
		_ = pg.Terminate(ctx)
		return nil, fmt.Errorf("postgres container not ready: %w", err)
	}

	return &PostgresContainer{
		Container: pg,
		URL:       fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, mappedPort.Port()),
	}, nil
}

// getFreePort gets a free port from the OS
func getFreePort() (int, error) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForPostgresReady pings through lib/pq until the server answers.
func waitForPostgresReady(host, port string, timeout time.Duration) error {
	connStr := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		db, err := sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			_ = db.Close()
			if err == nil {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for PostgreSQL to be ready after %s", timeout)
}

func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pg, err := setupPostgresContainer(ctx)
	require.NoError(t, err)
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	db, err := New(Config{URL: pg.URL, Pool: PoolConfig{Size: 4}}, nopLogger{}, WithModels(&widget{}))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.CreateAll(ctx))
	defer func() { require.NoError(t, db.DropAll(ctx)) }()

	caps := db.Capabilities()
	assert.Equal(t, DialectPostgres, caps.Dialect)
	assert.True(t, caps.SupportsReturning)
	assert.Equal(t, InsertPostgres, caps.InsertVariant)

	t.Run("commit and read back", func(t *testing.T) {
		want := widget{Name: "pg", Tags: []string{"a"}}
		require.NoError(t, db.Scope(ctx, func(ctx context.Context) error {
			_, err := db.Execute(ctx, func(tx *gorm.DB) *gorm.DB { return tx.Create(&want) })
			return err
		}))

		var got widget
		require.NoError(t, db.DB().First(&got, want.ID).Error)
		assert.Equal(t, want, got)
	})

	t.Run("upsert", func(t *testing.T) {
		result := caps.Insert(db.DB(), &widget{Name: "pg", Tags: []string{"b"}}, InsertOptions{
			OnConflict:      ConflictUpdate,
			ConflictColumns: []string{"name"},
			UpdateColumns:   []string{"tags"},
			Returning:       []string{"id"},
		})
		require.NoError(t, result.Error)

		var got widget
		require.NoError(t, db.DB().Where("name = ?", "pg").First(&got).Error)
		assert.Equal(t, []string{"b"}, got.Tags)
	})

	t.Run("failed savepoint keeps the session usable", func(t *testing.T) {
		require.NoError(t, db.Scope(ctx, func(ctx context.Context) error {
			err := db.Nested(ctx, func(ctx context.Context) error {
				if _, err := db.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "nested"); err != nil {
					return err
				}
				_, err := db.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "pg")
				return err
			})
			assert.ErrorIs(t, TranslateError(err), ErrDuplicateKey)

			_, err = db.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "after")
			return err
		}))
		assert.Equal(t, int64(2), countWidgets(t, db))
	})

	t.Run("duplicate key translation", func(t *testing.T) {
		err := db.DB().Create(&widget{Name: "pg"}).Error
		assert.ErrorIs(t, TranslateError(err), ErrDuplicateKey)
	})

	t.Run("cancelled scope returns its connection", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		scopedCtx, scoped, err := db.EnterScope(cctx)
		require.NoError(t, err)
		_, err = db.Exec(scopedCtx, "SELECT pg_sleep(0)")
		require.NoError(t, err)

		cancel()
		_ = scoped.Release(OutcomeCommit)

		assert.False(t, db.InScope(scopedCtx))
		assert.Eventually(t, func() bool {
			return db.SQLDB().Stats().InUse == 0
		}, 5*time.Second, 50*time.Millisecond)
	})
}
