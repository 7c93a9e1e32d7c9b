package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacore/m/internal/database"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedTrainAndReport(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "ctl.db")
	models := filepath.Join(dir, "models")
	t.Setenv("MODEL_STORE", "file")

	_, err := run(t, "migrate", "--dsn", dsn)
	require.NoError(t, err)
	db, err := database.Open(dsn)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pharmacies (id, name) VALUES (1, 'Central')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO products (id, pharmacy_id, name, unit_price) VALUES (1, 1, 'Paracetamol', 2.5)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Seed rows end yesterday so the default lookback window covers them.
	end := time.Now().UTC().AddDate(0, 0, -1)
	var csv strings.Builder
	csv.WriteString("pharmacy_id,product_id,sale_date,quantity_sold,total_revenue\n")
	for i := 0; i < 30; i++ {
		day := end.AddDate(0, 0, i-29).Format("2006-01-02")
		q := 8 + i%4
		if i%7 == 6 {
			q = 2
		}
		fmt.Fprintf(&csv, "1,1,%s,%d,\n", day, q)
	}
	path := filepath.Join(dir, "history.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv.String()), 0o644))

	out, err := run(t, "seed", "--dsn", dsn, "--csv", path)
	require.NoError(t, err)
	assert.Contains(t, out, "loaded 30 rows")

	out, err = run(t, "train", "--dsn", dsn, "--models-dir", models, "--pharmacy", "1", "--id", "1", "--name", "Paracetamol")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Model trained on 30 days of real sales for Paracetamol")

	out, err = run(t, "forecast", "--dsn", dsn, "--models-dir", models, "--pharmacy", "1", "--id", "1", "--horizon", "5")
	require.NoError(t, err, out)
	var res struct {
		Forecasts []float64 `json:"forecasts"`
		Baseline  bool      `json:"baseline"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Forecasts, 5)
	assert.False(t, res.Baseline)

	out, err = run(t, "accuracy", "--dsn", dsn, "--models-dir", models, "--pharmacy", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_models": 1`)
}

func TestCommandsValidateFlags(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "ctl.db")

	_, err := run(t, "accuracy", "--dsn", dsn)
	assert.ErrorContains(t, err, "--pharmacy is required")

	_, err = run(t, "train", "--dsn", dsn, "--pharmacy", "1", "--id", "1", "--type", "supplier")
	assert.Error(t, err)

	_, err = run(t, "seed", "--dsn", dsn)
	assert.Error(t, err)
}
