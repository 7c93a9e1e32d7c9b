package migrations

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		pharmacy_id INTEGER,
		created_at {{ts}} DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS pharmacies (
		id {{pk}},
		name TEXT NOT NULL,
		address TEXT,
		location TEXT,
		owner_id INTEGER REFERENCES users(id),
		created_at {{ts}} DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS product_categories (
		id {{pk}},
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		name TEXT NOT NULL,
		UNIQUE(pharmacy_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id {{pk}},
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		category_id INTEGER REFERENCES product_categories(id),
		name TEXT NOT NULL,
		unit_price {{real}} NOT NULL DEFAULT 0,
		cost_price {{real}} NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0,
		created_at {{ts}} DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id {{pk}},
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		user_id INTEGER REFERENCES users(id),
		total_amount {{real}} NOT NULL,
		discount {{real}} DEFAULT 0,
		paid_amount {{real}} DEFAULT 0,
		due_amount {{real}} DEFAULT 0,
		created_at {{ts}} DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id {{pk}},
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		unit_price {{real}} NOT NULL,
		subtotal {{real}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS historical_sales_daily (
		id {{pk}},
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		sale_date {{date}} NOT NULL,
		quantity_sold {{real}} NOT NULL DEFAULT 0,
		total_revenue {{real}},
		UNIQUE(pharmacy_id, product_id, sale_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_historical_sales_daily_lookup
		ON historical_sales_daily (pharmacy_id, sale_date)`,
	`CREATE TABLE IF NOT EXISTS forecasting_models (
		id {{pk}},
		pharmacy_id INTEGER NOT NULL,
		model_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_name TEXT NOT NULL DEFAULT '',
		accuracy_percentage {{real}} NOT NULL DEFAULT 0,
		accuracy_mae {{real}} NOT NULL DEFAULT 0,
		accuracy_rmse {{real}} NOT NULL DEFAULT 0,
		seasonal_period INTEGER NOT NULL DEFAULT 0,
		model_order TEXT NOT NULL DEFAULT '{}',
		training_rows INTEGER NOT NULL DEFAULT 0,
		last_trained_at {{ts}} NOT NULL,
		created_at {{ts}} DEFAULT CURRENT_TIMESTAMP,
		updated_at {{ts}} DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(pharmacy_id, model_type, target_id)
	)`,
}

var dialects = map[string]*strings.Replacer{
	"sqlite": strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TEXT",
		"{{date}}", "TEXT",
		"{{real}}", "REAL",
	),
	"pgx": strings.NewReplacer(
		"{{pk}}", "SERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{date}}", "DATE",
		"{{real}}", "DOUBLE PRECISION",
	),
}

// Statements renders the schema for a database/sql driver name.
func Statements(driver string) ([]string, error) {
	r, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = r.Replace(stmt)
	}
	return out, nil
}

// Apply creates the database schema required by the backend.
func Apply(db *sqlx.DB) error {
	stmts, err := Statements(db.DriverName())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Run is Apply for process startup: failure is fatal.
func Run(db *sqlx.DB) {
	if err := Apply(db); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}
}
