package forecasting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"pharmacore/m/domain"
)

// Repository reads aggregated sales and owns the forecasting_models table.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const historicalQuery = `SELECT h.sale_date AS sale_date,
	SUM(h.quantity_sold) AS quantity,
	SUM(COALESCE(h.total_revenue, h.quantity_sold * p.unit_price)) AS revenue,
	SUM(h.quantity_sold * p.cost_price) AS cost
	FROM historical_sales_daily h
	JOIN products p ON p.id = h.product_id
	WHERE h.pharmacy_id = ? AND %s = ? AND h.sale_date >= ? AND h.sale_date <= ?
	GROUP BY h.sale_date
	ORDER BY h.sale_date`

// Historical returns one row per day in [from, to] with at least one sale of
// the target. Days without sales are absent. A zero pharmacy or an empty target
// yields no rows.
func (r *Repository) Historical(ctx context.Context, key ModelKey, from, to domain.Date) ([]domain.HistoricalDemandPoint, error) {
	id, valid := key.numericTarget()
	if key.PharmacyID <= 0 || !valid {
		return nil, nil
	}
	var column string
	switch key.Kind {
	case domain.TargetProduct:
		column = "h.product_id"
	case domain.TargetCategory:
		column = "p.category_id"
	default:
		return nil, nil
	}
	query := r.db.Rebind(fmt.Sprintf(historicalQuery, column))
	var points []domain.HistoricalDemandPoint
	if err := r.db.SelectContext(ctx, &points, query, key.PharmacyID, id, from, to); err != nil {
		return nil, fmt.Errorf("historical sales: %w", err)
	}
	return points, nil
}

// HistoricalBounds is the first and last sale day recorded for the target.
// ok is false when the target has no sales.
func (r *Repository) HistoricalBounds(ctx context.Context, key ModelKey) (first, last domain.Date, ok bool, err error) {
	column := "h.product_id"
	if key.Kind == domain.TargetCategory {
		column = "p.category_id"
	}
	query := r.db.Rebind(fmt.Sprintf(`SELECT MIN(h.sale_date), MAX(h.sale_date)
		FROM historical_sales_daily h
		JOIN products p ON p.id = h.product_id
		WHERE h.pharmacy_id = ? AND %s = ?`, column))
	id, valid := key.numericTarget()
	if !valid {
		return first, last, false, nil
	}
	var loT, hiT any
	row := r.db.QueryRowxContext(ctx, query, key.PharmacyID, id)
	if err := row.Scan(&loT, &hiT); err != nil {
		return first, last, false, fmt.Errorf("historical bounds: %w", err)
	}
	if loT == nil || hiT == nil {
		return first, last, false, nil
	}
	if err := first.Scan(loT); err != nil {
		return first, last, false, err
	}
	if err := last.Scan(hiT); err != nil {
		return first, last, false, err
	}
	return first, last, true, nil
}

// numericTarget parses the target id as a product or category primary key.
func (k ModelKey) numericTarget() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(k.TargetID), 10, 64)
	return id, err == nil && id > 0
}

const upsertAccuracy = `INSERT INTO forecasting_models (
	pharmacy_id, model_type, target_id, target_name, accuracy_percentage, accuracy_mae, accuracy_rmse,
	seasonal_period, model_order, training_rows, last_trained_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (pharmacy_id, model_type, target_id) DO UPDATE SET
	target_name = EXCLUDED.target_name,
	accuracy_percentage = EXCLUDED.accuracy_percentage,
	accuracy_mae = EXCLUDED.accuracy_mae,
	accuracy_rmse = EXCLUDED.accuracy_rmse,
	seasonal_period = EXCLUDED.seasonal_period,
	model_order = EXCLUDED.model_order,
	training_rows = EXCLUDED.training_rows,
	last_trained_at = EXCLUDED.last_trained_at,
	updated_at = EXCLUDED.updated_at`

// UpsertAccuracy replaces the accuracy record for the record's key.
func (r *Repository) UpsertAccuracy(ctx context.Context, rec domain.ModelAccuracyRecord) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(upsertAccuracy),
		rec.PharmacyID, string(rec.Kind), rec.TargetID, rec.TargetName,
		rec.AccuracyPercentage, rec.MAE, rec.RMSE,
		rec.SeasonalPeriod, rec.ModelOrder, rec.TrainingRows,
		rec.LastTrainedAt, rec.LastTrainedAt, rec.LastTrainedAt)
	if err != nil {
		return fmt.Errorf("upsert accuracy: %w", err)
	}
	return nil
}

const accuracyColumns = `id, pharmacy_id, model_type, target_id, target_name, accuracy_percentage,
	accuracy_mae, accuracy_rmse, seasonal_period, model_order, training_rows, last_trained_at`

// Accuracy returns nil without error when no record exists.
func (r *Repository) Accuracy(ctx context.Context, key ModelKey) (*domain.ModelAccuracyRecord, error) {
	var rec domain.ModelAccuracyRecord
	err := r.db.GetContext(ctx, &rec, r.db.Rebind(`SELECT `+accuracyColumns+`
		FROM forecasting_models WHERE pharmacy_id = ? AND model_type = ? AND target_id = ?`),
		key.PharmacyID, string(key.Kind), key.TargetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load accuracy: %w", err)
	}
	return &rec, nil
}

// ListAccuracy returns the pharmacy's records, most recently trained first.
func (r *Repository) ListAccuracy(ctx context.Context, pharmacyID int64) ([]domain.ModelAccuracyRecord, error) {
	records := []domain.ModelAccuracyRecord{}
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`SELECT `+accuracyColumns+`
		FROM forecasting_models WHERE pharmacy_id = ? ORDER BY last_trained_at DESC, id DESC`), pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("list accuracy: %w", err)
	}
	return records, nil
}

func (r *Repository) DeleteAccuracy(ctx context.Context, key ModelKey) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM forecasting_models
		WHERE pharmacy_id = ? AND model_type = ? AND target_id = ?`),
		key.PharmacyID, string(key.Kind), key.TargetID)
	if err != nil {
		return fmt.Errorf("delete accuracy: %w", err)
	}
	return nil
}

// Target is a product or category with enough sales history to model.
type Target struct {
	ID       int64   `db:"id" json:"id"`
	Name     string  `db:"name" json:"name"`
	SaleDays int     `db:"sale_days" json:"sale_days"`
	Quantity float64 `db:"quantity" json:"total_quantity"`
}

// ForecastableProducts lists products sold on at least minDays distinct days.
func (r *Repository) ForecastableProducts(ctx context.Context, pharmacyID int64, minDays int) ([]Target, error) {
	targets := []Target{}
	err := r.db.SelectContext(ctx, &targets, r.db.Rebind(`SELECT p.id AS id, p.name AS name,
		COUNT(DISTINCT h.sale_date) AS sale_days, SUM(h.quantity_sold) AS quantity
		FROM historical_sales_daily h
		JOIN products p ON p.id = h.product_id
		WHERE h.pharmacy_id = ?
		GROUP BY p.id, p.name
		HAVING COUNT(DISTINCT h.sale_date) >= ?
		ORDER BY quantity DESC, p.id`), pharmacyID, minDays)
	if err != nil {
		return nil, fmt.Errorf("forecastable products: %w", err)
	}
	return targets, nil
}

// ForecastableCategories lists categories sold on at least minDays distinct days.
func (r *Repository) ForecastableCategories(ctx context.Context, pharmacyID int64, minDays int) ([]Target, error) {
	targets := []Target{}
	err := r.db.SelectContext(ctx, &targets, r.db.Rebind(`SELECT c.id AS id, c.name AS name,
		COUNT(DISTINCT h.sale_date) AS sale_days, SUM(h.quantity_sold) AS quantity
		FROM historical_sales_daily h
		JOIN products p ON p.id = h.product_id
		JOIN product_categories c ON c.id = p.category_id
		WHERE h.pharmacy_id = ?
		GROUP BY c.id, c.name
		HAVING COUNT(DISTINCT h.sale_date) >= ?
		ORDER BY quantity DESC, c.id`), pharmacyID, minDays)
	if err != nil {
		return nil, fmt.Errorf("forecastable categories: %w", err)
	}
	return targets, nil
}
