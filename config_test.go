package unidb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
)

func TestConfigValidate(t *testing.T) {
	valid := &unidb.DatabaseConfig{
		Alias:   "main",
		Backend: dialect.SQLite,
		Connection: unidb.ConnectionSpec{
			SQLite: &unidb.SQLiteSpec{Path: "./app.db", CreateIfMissing: true},
		},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		cfg  unidb.DatabaseConfig
		kind unidb.Kind
	}{
		{
			"empty_alias",
			unidb.DatabaseConfig{Backend: dialect.SQLite},
			unidb.KindConfig,
		},
		{
			"unknown_backend",
			unidb.DatabaseConfig{Alias: "a", Backend: "oracle"},
			unidb.KindUnsupportedDatabase,
		},
		{
			"spec_mismatch",
			unidb.DatabaseConfig{Alias: "a", Backend: dialect.Postgres},
			unidb.KindConfig,
		},
		{
			"empty_sqlite_path",
			unidb.DatabaseConfig{
				Alias:      "a",
				Backend:    dialect.SQLite,
				Connection: unidb.ConnectionSpec{SQLite: &unidb.SQLiteSpec{}},
			},
			unidb.KindConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.kind, unidb.KindOf(err))
		})
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	p := unidb.PoolConfig{}.WithDefaults()
	assert.Equal(t, 8, p.MaxConnections)
	assert.Equal(t, 1, p.MinConnections)
	assert.Equal(t, 30*time.Second, p.OperationTimeout)
	assert.Equal(t, 10, p.MaxRetries)

	p = unidb.PoolConfig{MinConnections: 9, MaxConnections: 4}.WithDefaults()
	assert.Equal(t, 4, p.MinConnections, "min clamps to max")
}

func TestFromYAML(t *testing.T) {
	doc := []byte(`
alias: analytics
backend: postgres
connection:
  postgres:
    host: db.local
    port: 5432
    database: analytics
    username: svc
    password: secret
    ssl_mode: require
pool:
  max_connections: 4
  operation_timeout: 10s
id_strategy: uuid
cache:
  enabled: true
  strategy: lru
  l1:
    max_capacity: 1000
`)
	cfg, err := unidb.FromYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, "analytics", cfg.Alias)
	assert.Equal(t, dialect.Postgres, cfg.Backend)
	require.NotNil(t, cfg.Connection.Postgres)
	assert.Equal(t, "db.local", cfg.Connection.Postgres.Host)
	assert.Equal(t, "require", cfg.Connection.Postgres.SSLMode)
	assert.Equal(t, 4, cfg.Pool.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.Pool.OperationTimeout)
	assert.Equal(t, unidb.IDUUID, cfg.IDStrategy)
	require.NotNil(t, cfg.Cache)
	assert.Equal(t, unidb.CacheLRU, cfg.Cache.Strategy)

	_, err = unidb.FromYAML([]byte("alias: [broken"))
	require.Error(t, err)
	assert.True(t, unidb.IsConfigError(err))

	_, err = unidb.FromYAML([]byte("alias: a\nbackend: oracle"))
	require.Error(t, err)
	assert.True(t, unidb.IsUnsupportedDatabase(err))
}
