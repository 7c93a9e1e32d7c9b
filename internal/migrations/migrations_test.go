package migrations

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestApplyIsIdempotent(t *testing.T) {
	db, err := sqlx.Connect("sqlite", "file:migrations_test?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	require.NoError(t, Apply(db))
	require.NoError(t, Apply(db))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	assert.Equal(t, []string{
		"forecasting_models",
		"historical_sales_daily",
		"pharmacies",
		"product_categories",
		"products",
		"sale_items",
		"sales",
		"users",
	}, tables)
}

func TestStatementsPostgresDialect(t *testing.T) {
	stmts, err := Statements("pgx")
	require.NoError(t, err)
	for _, s := range stmts {
		assert.NotContains(t, s, "{{")
		assert.NotContains(t, s, "AUTOINCREMENT")
	}
	assert.Contains(t, stmts[0], "SERIAL PRIMARY KEY")

	_, err = Statements("mysql")
	assert.Error(t, err)
}
