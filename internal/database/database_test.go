package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver(t *testing.T) {
	assert.Equal(t, "pgx", Driver("postgres://user:pw@localhost/db"))
	assert.Equal(t, "pgx", Driver("PostgreSQL://localhost/db"))
	assert.Equal(t, "sqlite", Driver("file:pharmacore.db"))
	assert.Equal(t, "sqlite", Driver(":memory:"))
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	assert.Equal(t, "sqlite", db.DriverName())
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}
