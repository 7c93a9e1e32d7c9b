package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"pharmacore/m/domain"
)

var historyHeader = []string{"pharmacy_id", "product_id", "sale_date", "quantity_sold", "total_revenue"}

const upsertHistory = `INSERT INTO historical_sales_daily (pharmacy_id, product_id, sale_date, quantity_sold, total_revenue)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (pharmacy_id, product_id, sale_date) DO UPDATE SET
		quantity_sold = EXCLUDED.quantity_sold,
		total_revenue = EXCLUDED.total_revenue`

// LoadSalesHistory ingests daily sales from a CSV file into
// historical_sales_daily, replacing rows for days already present.
func LoadSalesHistory(db *sqlx.DB, csvPath string) (int, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open sales history %s: %w", csvPath, err)
	}
	defer file.Close()
	return ReadSalesHistory(db, file)
}

// ReadSalesHistory is LoadSalesHistory over an arbitrary reader. Malformed rows
// are logged and skipped; the valid rows are committed together.
func ReadSalesHistory(db *sqlx.DB, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read sales history header: %w", err)
	}
	if len(header) < 4 || !strings.EqualFold(strings.TrimSpace(header[0]), historyHeader[0]) {
		return 0, fmt.Errorf("unexpected sales history header %v, want %v", header, historyHeader)
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("start sales history transaction: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Preparex(tx.Rebind(upsertHistory))
	if err != nil {
		return 0, fmt.Errorf("prepare sales history insert: %w", err)
	}
	defer stmt.Close()

	rows, line := 0, 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("unable to read sales history row")
			continue
		}
		row, err := parseHistoryRow(record)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping sales history row")
			continue
		}
		if _, err := stmt.Exec(row.pharmacyID, row.productID, row.date, row.quantity, row.revenue); err != nil {
			return rows, fmt.Errorf("insert sales history line %d: %w", line, err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sales history: %w", err)
	}
	log.Info().Int("rows", rows).Msg("seeded sales history")
	return rows, nil
}

type historyRow struct {
	pharmacyID, productID int64
	date                  domain.Date
	quantity              float64
	revenue               *float64
}

func parseHistoryRow(record []string) (historyRow, error) {
	var row historyRow
	if len(record) < 4 {
		return row, fmt.Errorf("want at least 4 fields, got %d", len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	var err error
	if row.pharmacyID, err = strconv.ParseInt(record[0], 10, 64); err != nil || row.pharmacyID <= 0 {
		return row, fmt.Errorf("invalid pharmacy_id %q", record[0])
	}
	if row.productID, err = strconv.ParseInt(record[1], 10, 64); err != nil || row.productID <= 0 {
		return row, fmt.Errorf("invalid product_id %q", record[1])
	}
	if row.date, err = domain.ParseDate(record[2]); err != nil {
		return row, fmt.Errorf("invalid sale_date %q", record[2])
	}
	if row.quantity, err = strconv.ParseFloat(record[3], 64); err != nil || row.quantity < 0 {
		return row, fmt.Errorf("invalid quantity_sold %q", record[3])
	}
	if len(record) > 4 && record[4] != "" {
		v, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return row, fmt.Errorf("invalid total_revenue %q", record[4])
		}
		row.revenue = &v
	}
	return row, nil
}
