package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Aleph-Alpha/sqlscope/v1/observability"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

//go:generate mockgen -source=setup.go -destination=mock_logger.go -package=database

// Logger is the logging contract of the database package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// Database is the engine handle. It owns the connection pool, the detected
// dialect capabilities and the registered models, and hands out sessions.
//
// A Database is safe for concurrent use. Sessions obtained from it are not.
type Database struct {
	client       *gorm.DB
	cfg          Config
	url          ConnectionURL
	logger       Logger
	observer     observability.Observer
	tracer       trace.TracerProvider
	codec        Codec
	capabilities Capabilities

	// memoryConn holds an in-memory sqlite database open for the lifetime
	// of the Database, independent of the pool.
	memoryConn *sql.Conn
	memoryDB   *sql.DB

	modelsMu sync.RWMutex
	models   []interface{}

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Database at construction time.
type Option func(*Database)

// WithObserver reports scope, transaction and statement operations to o.
// If o also implements RegisterDBStats(*sql.DB, string) error the pool is registered with it.
func WithObserver(o observability.Observer) Option {
	return func(d *Database) {
		d.observer = o
	}
}

// WithTracerProvider enables statement tracing through tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Database) {
		d.tracer = tp
	}
}

// WithCodec replaces the JSON codec used by the "codec" column serializer.
func WithCodec(c Codec) Option {
	return func(d *Database) {
		if c != nil {
			d.codec = c
		}
	}
}

// WithModels registers models for CreateAll and DropAll.
func WithModels(models ...interface{}) Option {
	return func(d *Database) {
		d.models = append(d.models, models...)
	}
}

// New resolves cfg.URL to a dialect, opens the connection pool and prepares
// the engine. Capabilities are detected once and cached; instrumentation is
// attached when a tracer provider was supplied.
func New(cfg Config, logger Logger, opts ...Option) (*Database, error) {
	cfg = cfg.withDefaults()
	u, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	dialector, err := openDialector(u)
	if err != nil {
		return nil, err
	}
	return open(cfg, u, dialector, logger, opts...)
}

// NewWithDialector builds a Database on a pre-built dialector, for instance
// one wrapping an existing *sql.DB. cfg.URL is ignored.
func NewWithDialector(cfg Config, dialector gorm.Dialector, logger Logger, opts ...Option) (*Database, error) {
	if dialector == nil {
		return nil, errors.New("database: nil dialector")
	}
	cfg = cfg.withDefaults()
	return open(cfg, ConnectionURL{Dialect: dialector.Name()}, dialector, logger, opts...)
}

// FromEnv builds a Database from DATABASE_* environment variables, see ConfigFromEnv.
func FromEnv(logger Logger, opts ...Option) (*Database, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg, logger, opts...)
}

func open(cfg Config, u ConnectionURL, dialector gorm.Dialector, logger Logger, opts ...Option) (*Database, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("database: nil logger")
	}

	d := &Database{
		cfg:    cfg,
		url:    u,
		logger: logger,
		codec:  JSONCodec{},
	}
	for _, opt := range opts {
		opt(d)
	}

	if u.Memory {
		if err := d.holdMemoryDatabase(); err != nil {
			return nil, err
		}
	}

	client, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(logger, cfg.Pool.Echo, cfg.SlowThreshold),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		_ = d.releaseMemoryDatabase()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialector.Name(), err)
	}
	d.client = client

	sqlDB, err := client.DB()
	if err != nil {
		_ = d.releaseMemoryDatabase()
		return nil, fmt.Errorf("failed to get %s database instance: %w", dialector.Name(), err)
	}
	d.applyPool(sqlDB)

	d.capabilities = DetectCapabilities(dialector.Name(), LinkedSQLiteVersion())

	if err := client.Use(newCodecPlugin(d.codec)); err != nil {
		_ = sqlDB.Close()
		_ = d.releaseMemoryDatabase()
		return nil, fmt.Errorf("failed to attach codec: %w", err)
	}

	if d.tracer != nil {
		if err := client.Use(newTracingPlugin(d.tracer, d.capabilities.Dialect)); err != nil && !errors.Is(err, gorm.ErrRegistered) {
			_ = sqlDB.Close()
			_ = d.releaseMemoryDatabase()
			return nil, fmt.Errorf("failed to attach tracing: %w", err)
		}
	}

	if registerer, ok := d.observer.(dbStatsRegisterer); ok {
		if err := registerer.RegisterDBStats(sqlDB, d.capabilities.Dialect); err != nil {
			d.logger.Warn("failed to register connection pool statistics", err, nil)
		}
	}

	d.logger.Info("database engine ready", nil, map[string]interface{}{
		"dialect":        d.capabilities.Dialect,
		"returning":      d.capabilities.SupportsReturning,
		"on_conflict":    d.capabilities.SupportsOnConflict,
		"insert_variant": d.capabilities.InsertVariant.String(),
		"pool_strategy":  string(cfg.Pool.Strategy),
	})
	return d, nil
}

// applyPool maps the pool strategy onto database/sql settings.
//
// In-memory sqlite databases always use a single pooled connection whatever
// the strategy: connections to a shared-cache database fail with "database
// table is locked" instead of waiting for each other, so concurrent scopes
// queue for the connection instead. The database itself is kept alive by
// memoryConn.
func (d *Database) applyPool(sqlDB *sql.DB) {
	pool := d.cfg.Pool

	if d.url.Memory {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		return
	}

	switch pool.Strategy {
	case PoolStatic:
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	case PoolNull:
		sqlDB.SetMaxOpenConns(pool.Size + pool.MaxOverflow)
		sqlDB.SetMaxIdleConns(-1)
	default:
		sqlDB.SetMaxOpenConns(pool.Size + pool.MaxOverflow)
		sqlDB.SetMaxIdleConns(pool.Size)
	}

	if pool.Recycle > 0 {
		sqlDB.SetConnMaxLifetime(pool.Recycle)
	}
}

// holdMemoryDatabase opens a connection outside the pool that keeps the
// in-memory database alive until Close, even when the pool drops its
// connection.
func (d *Database) holdMemoryDatabase() error {
	memoryDB, err := sql.Open(sqliteDriverName, d.url.DSN)
	if err != nil {
		return fmt.Errorf("failed to open in-memory sqlite database: %w", err)
	}
	conn, err := memoryDB.Conn(context.Background())
	if err != nil {
		_ = memoryDB.Close()
		return fmt.Errorf("failed to open in-memory sqlite database: %w", err)
	}
	d.memoryDB = memoryDB
	d.memoryConn = conn
	return nil
}

func (d *Database) releaseMemoryDatabase() error {
	if d.memoryDB == nil {
		return nil
	}
	conn, memoryDB := d.memoryConn, d.memoryDB
	d.memoryConn, d.memoryDB = nil, nil
	return errors.Join(conn.Close(), memoryDB.Close())
}

// Capabilities returns the capabilities detected at construction.
func (d *Database) Capabilities() Capabilities {
	return d.capabilities
}

// Config returns the effective configuration with defaults applied.
func (d *Database) Config() Config {
	return d.cfg
}

// DB returns the underlying GORM handle, bound to no session.
func (d *Database) DB() *gorm.DB {
	return d.client
}

// SQLDB returns the connection pool.
func (d *Database) SQLDB() *sql.DB {
	sqlDB, err := d.client.DB()
	if err != nil {
		return nil
	}
	return sqlDB
}

// RegisterModels adds models for CreateAll and DropAll.
func (d *Database) RegisterModels(models ...interface{}) {
	d.modelsMu.Lock()
	defer d.modelsMu.Unlock()
	d.models = append(d.models, models...)
}

// Models returns a copy of the registered models in registration order.
func (d *Database) Models() []interface{} {
	d.modelsMu.RLock()
	defer d.modelsMu.RUnlock()
	return append([]interface{}(nil), d.models...)
}

// Ping verifies that a connection can be established.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool. Later calls return the first result.
func (d *Database) Close() error {
	d.closeOnce.Do(func() {
		sqlDB, err := d.client.DB()
		if err != nil {
			d.closeErr = err
			return
		}
		d.closeErr = errors.Join(sqlDB.Close(), d.releaseMemoryDatabase())
		if d.closeErr != nil {
			d.logger.Error("failed to close database connection pool", d.closeErr, nil)
			return
		}
		d.logger.Info("database connection pool closed", nil, nil)
	})
	return d.closeErr
}

// GracefulShutdown closes the connection pool.
func (d *Database) GracefulShutdown() error {
	return d.Close()
}
