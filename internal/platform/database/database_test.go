package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproject/projectone/internal/config"
)

func TestOpenEmbeddedInMemory(t *testing.T) {
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "embedded"})
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)

	// the same connection must keep the in-memory schema
	_, err = db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec(db.Rebind("INSERT INTO t (id) VALUES (?)"), 1)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, n)
}

func TestOpenEmbeddedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.db")
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: path})
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	sqliteDSN, err := DSN(DriverSQLite, "dev.db?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(sqliteDSN, "foreign_keys"))
	assert.Contains(t, sqliteDSN, "&_pragma=busy_timeout(5000)")

	mysqlDSN, err := DSN(DriverMySQL, "user:pw@tcp(localhost:3306)/app")
	require.NoError(t, err)
	assert.Contains(t, mysqlDSN, "parseTime=true")
	assert.Contains(t, mysqlDSN, "multiStatements=true")

	_, err = DSN(DriverPostgres, "")
	assert.Error(t, err)
}
