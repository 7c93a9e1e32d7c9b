package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TargetKind selects what a forecast is computed for.
type TargetKind string

const (
	TargetProduct  TargetKind = "product"
	TargetCategory TargetKind = "category"
)

// ParseTargetKind accepts "product" or "category" in any case.
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(strings.ToLower(strings.TrimSpace(s))) {
	case TargetProduct:
		return TargetProduct, nil
	case TargetCategory:
		return TargetCategory, nil
	}
	return "", fmt.Errorf("unknown target kind %q", s)
}

// DateLayout is the calendar-day wire and storage format.
const DateLayout = "2006-01-02"

// Date is a calendar day without time-of-day. It scans from DATE, TIMESTAMP and
// TEXT columns and is written back as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(DateLayout) }

// AddDays returns the day n days after d.
func (d Date) AddDays(n int) Date { return Date{d.Time.AddDate(0, 0, n)} }

func (d Date) Value() (driver.Value, error) { return d.String(), nil }

func (d *Date) Scan(src any) error {
	t, err := scanTime(src)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	*d = NewDate(t)
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Timestamp is an instant stored as RFC 3339 text or a native timestamp column.
type Timestamp struct {
	time.Time
}

// timestampLayout is fixed-width so stored text sorts chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func (t Timestamp) Value() (driver.Value, error) { return t.UTC().Format(timestampLayout), nil }

func (t *Timestamp) Scan(src any) error {
	parsed, err := scanTime(src)
	if err != nil {
		return fmt.Errorf("scan timestamp: %w", err)
	}
	t.Time = parsed.UTC()
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	DateLayout,
}

func scanTime(src any) (time.Time, error) {
	var s string
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return time.Time{}, fmt.Errorf("null value")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", src)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// HistoricalDemandPoint is one day of aggregated sales for a target.
type HistoricalDemandPoint struct {
	Date     Date    `db:"sale_date" json:"date"`
	Quantity float64 `db:"quantity" json:"quantity"`
	Revenue  float64 `db:"revenue" json:"revenue"`
	Cost     float64 `db:"cost" json:"cost"`
}

// ModelAccuracyRecord is the persisted metadata for the live model of a target.
type ModelAccuracyRecord struct {
	ID                 int64      `db:"id" json:"id"`
	PharmacyID         int64      `db:"pharmacy_id" json:"pharmacy_id"`
	Kind               TargetKind `db:"model_type" json:"model_type"`
	TargetID           string     `db:"target_id" json:"target_id"`
	TargetName         string     `db:"target_name" json:"target_name"`
	AccuracyPercentage float64    `db:"accuracy_percentage" json:"accuracy_percentage"`
	MAE                float64    `db:"accuracy_mae" json:"accuracy_mae"`
	RMSE               float64    `db:"accuracy_rmse" json:"accuracy_rmse"`
	SeasonalPeriod     int        `db:"seasonal_period" json:"seasonal_period"`
	ModelOrder         string     `db:"model_order" json:"model_order"`
	TrainingRows       int        `db:"training_rows" json:"training_rows"`
	LastTrainedAt      Timestamp  `db:"last_trained_at" json:"last_trained_at"`
}

// ConfidenceInterval is a lower/upper bound pair for one forecast day.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastResult is the transient output of forecast serving. Confidence is nil
// when the model cannot estimate uncertainty.
type ForecastResult struct {
	Dates      []Date               `json:"dates"`
	Values     []float64            `json:"forecasts"`
	Confidence []ConfidenceInterval `json:"confidence"`
	Accuracy   *float64             `json:"accuracy"`
	Baseline   bool                 `json:"baseline"`
	Message    string               `json:"message"`
}
