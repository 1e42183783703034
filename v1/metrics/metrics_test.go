package metrics

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Aleph-Alpha/sqlscope/v1/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	m := NewMetrics(Config{ServiceName: "test"})

	m.ObserveOperation(observability.OperationContext{Component: "database", Operation: "execute", Duration: time.Millisecond, Size: 3})
	m.ObserveOperation(observability.OperationContext{Component: "database", Operation: "execute", Error: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("database", "execute", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("database", "execute", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsAffected.WithLabelValues("execute")))
}

func TestActiveScopesGauge(t *testing.T) {
	m := NewMetrics(Config{})

	m.ObserveOperation(observability.OperationContext{Component: "database", Operation: operationScopeEnter})
	m.ObserveOperation(observability.OperationContext{Component: "database", Operation: operationScopeEnter})
	m.ObserveOperation(observability.OperationContext{Component: "database", Operation: operationScopeEnter, Error: errors.New("nested")})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeScopes))

	m.ObserveOperation(observability.OperationContext{Component: "database", Operation: operationScopeRelease})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeScopes))
}

func TestRegisterDBStats(t *testing.T) {
	m := NewMetrics(Config{ServiceName: "test"})

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, m.RegisterDBStats(db, "main"))
	require.NoError(t, m.RegisterDBStats(db, "main"))

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() == "go_sql_max_open_connections" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDefaultAddress(t *testing.T) {
	m := NewMetrics(Config{})
	assert.Equal(t, DefaultMetricsAddress, m.Server.Addr)
}
