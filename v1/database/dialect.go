package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqliteDriverName is the database/sql driver behind the sqlite dialector.
const sqliteDriverName = sqlite.DriverName

// Dialect names as reported by the GORM dialectors.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
)

// ConnectionURL is a parsed Config.URL.
type ConnectionURL struct {
	// Dialect is one of DialectPostgres, DialectSQLite or DialectMySQL.
	Dialect string

	// DSN is the driver specific data source name.
	DSN string

	// Memory reports an in-memory sqlite database.
	Memory bool
}

// ParseURL maps a connection URL to a dialect and a driver DSN.
//
// The scheme may carry a driver suffix ("postgresql+asyncpg", "sqlite+pysqlite"),
// which is ignored. In-memory sqlite URLs ("sqlite://", "sqlite:///:memory:") are
// given a unique shared-cache name so every pooled connection sees the same database.
func ParseURL(raw string) (ConnectionURL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return ConnectionURL{}, fmt.Errorf("%w: missing scheme in %q", ErrUnsupportedDialect, raw)
	}
	scheme, _, _ = strings.Cut(strings.ToLower(scheme), "+")

	switch scheme {
	case "postgres", "postgresql":
		return ConnectionURL{Dialect: DialectPostgres, DSN: "postgres://" + rest}, nil

	case "sqlite", "sqlite3":
		return parseSQLite(rest), nil

	case "mysql", "mariadb":
		dsn, err := mysqlDSN(rest)
		if err != nil {
			return ConnectionURL{}, err
		}
		return ConnectionURL{Dialect: DialectMySQL, DSN: dsn}, nil

	default:
		return ConnectionURL{}, fmt.Errorf("%w: %s", ErrUnsupportedDialect, scheme)
	}
}

// parseSQLite handles the "sqlite:///relative", "sqlite:////absolute" and
// in-memory forms.
func parseSQLite(rest string) ConnectionURL {
	path, query, _ := strings.Cut(rest, "?")
	path = strings.TrimPrefix(path, "/")

	if path == "" || path == ":memory:" {
		dsn := fmt.Sprintf("file:sqlscope_%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", ""))
		if query != "" {
			dsn += "&" + query
		}
		return ConnectionURL{Dialect: DialectSQLite, DSN: dsn, Memory: true}
	}

	if query != "" {
		path += "?" + query
	}
	return ConnectionURL{Dialect: DialectSQLite, DSN: path}
}

// mysqlDSN converts "user:pass@host:3306/db?param=v" to the go-sql-driver format.
func mysqlDSN(rest string) (string, error) {
	u, err := url.Parse("mysql://" + rest)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}

	if params := u.Query(); len(params) > 0 {
		cfg.Params = make(map[string]string, len(params))
		for key := range params {
			cfg.Params[key] = params.Get(key)
		}
	}
	return cfg.FormatDSN(), nil
}

// openDialector returns the GORM dialector for a parsed URL.
func openDialector(u ConnectionURL) (gorm.Dialector, error) {
	switch u.Dialect {
	case DialectPostgres:
		return postgres.Open(u.DSN), nil
	case DialectSQLite:
		return sqlite.Open(u.DSN), nil
	case DialectMySQL:
		return gormmysql.Open(u.DSN), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, u.Dialect)
	}
}
