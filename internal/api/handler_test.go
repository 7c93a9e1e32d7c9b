package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"pharmacore/m/domain"
	"pharmacore/m/internal/forecasting"
	"pharmacore/m/internal/migrations"
)

var testNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	db     *sqlx.DB
	router http.Handler
}

func newTestAPI(t *testing.T, trainPerMinute int) *testAPI {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlx.Connect("sqlite", "file:api_"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Apply(db))

	now := func() time.Time { return testNow }
	reg := prometheus.NewRegistry()
	models, err := forecasting.NewRegistry(forecasting.NewFileStore(t.TempDir()), 8)
	require.NoError(t, err)
	svc := forecasting.NewService(forecasting.NewRepository(db), models, forecasting.Options{
		Now:     now,
		Metrics: forecasting.NewMetrics(reg),
	})
	h := New(db, "test-secret", svc, Options{Registry: reg, TrainPerMinute: trainPerMinute, Now: now})
	return &testAPI{db: db, router: h.Router()}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// registerOwner creates an owner with a fresh pharmacy and returns the token and pharmacy id.
func (a *testAPI) registerOwner(t *testing.T, email string) (string, int64) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "owner", "email": email, "password": "secret", "role": "owner", "pharmacy_name": "Central",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[authResponse](t, rec)
	require.NotNil(t, resp.Pharmacy)
	return resp.Token, resp.Pharmacy.ID
}

func (a *testAPI) addProduct(t *testing.T, pharmacyID int64, name string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, a.db.QueryRowx(`INSERT INTO products (pharmacy_id, name, unit_price, cost_price, stock)
		VALUES (?, ?, 2.5, 1, 100) RETURNING id`, pharmacyID, name).Scan(&id))
	return id
}

// addHistory writes n days of weekday-heavy demand ending today.
func (a *testAPI) addHistory(t *testing.T, pharmacyID, productID int64, n int) {
	t.Helper()
	end := domain.NewDate(testNow)
	for i := 0; i < n; i++ {
		q := 10.0 + float64(i%3)
		if i%7 >= 5 {
			q = 3
		}
		_, err := a.db.Exec(`INSERT INTO historical_sales_daily (pharmacy_id, product_id, sale_date, quantity_sold) VALUES (?, ?, ?, ?)`,
			pharmacyID, productID, end.AddDays(i-n+1), q)
		require.NoError(t, err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t, 0)

	rec := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pharmacore_http_requests_total{route="/health",status="200"} 1`)
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t, 0)
	_, pharmacyID := a.registerOwner(t, "Owner@Example.com")

	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "again", "email": "owner@example.com", "password": "x", "role": "owner", "pharmacy_name": "Other",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "owner@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "owner@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[authResponse](t, rec)
	assert.Empty(t, login.User.Password)
	require.NotNil(t, login.User.PharmacyID)
	assert.Equal(t, pharmacyID, *login.User.PharmacyID)

	rec = a.do(t, http.MethodGet, "/catalog/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(t, http.MethodGet, "/catalog/products", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(t, http.MethodGet, "/catalog/products", login.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "clerk", "email": "clerk@example.com", "password": "x", "role": "employee",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaleUpdatesStockAndDailyHistory(t *testing.T) {
	a := newTestAPI(t, 0)
	token, _ := a.registerOwner(t, "owner@example.com")

	rec := a.do(t, http.MethodPost, "/catalog/categories", token, map[string]any{"name": "Analgesics"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	category := decode[domain.Category](t, rec)

	rec = a.do(t, http.MethodPost, "/catalog/products", token, map[string]any{
		"name": "Paracetamol", "category_id": category.ID, "unit_price": 2.5, "cost_price": 1, "stock": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	product := decode[domain.Product](t, rec)

	rec = a.do(t, http.MethodPost, "/sales", token, map[string]any{
		"items":       []map[string]any{{"product_id": product.ID, "quantity": 2}, {"product_id": product.ID, "quantity": 1}},
		"discount":    0.5,
		"paid_amount": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[map[string]float64](t, rec)
	assert.Equal(t, 7.5, sale["total"])
	assert.Equal(t, 7.0, sale["final_amount"])
	assert.Equal(t, 2.0, sale["due_amount"])

	rec = a.do(t, http.MethodGet, "/sales/"+itoa(int64(sale["sale_id"])), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decode[saleDetail](t, rec)
	assert.Equal(t, 7.5, detail.TotalAmount)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, int64(3), detail.Items[0].Quantity)

	var stock int64
	require.NoError(t, a.db.Get(&stock, `SELECT stock FROM products WHERE id = ?`, product.ID))
	assert.Equal(t, int64(7), stock)

	var day struct {
		Quantity float64 `db:"quantity_sold"`
		Revenue  float64 `db:"total_revenue"`
	}
	require.NoError(t, a.db.Get(&day, `SELECT quantity_sold, total_revenue FROM historical_sales_daily WHERE product_id = ? AND sale_date = ?`,
		product.ID, "2026-03-31"))
	assert.Equal(t, 3.0, day.Quantity)
	assert.Equal(t, 7.5, day.Revenue)

	rec = a.do(t, http.MethodPost, "/sales", token, map[string]any{
		"items": []map[string]any{{"product_id": product.ID, "quantity": 8}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/reports/sales/daily", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[map[string]any](t, rec)
	assert.Equal(t, 7.0, report["revenue"])
	assert.Equal(t, 1.0, report["sales_count"])
	assert.Equal(t, 3.0, report["items_sold"])
	assert.Equal(t, "2026-03-31", report["date"])
}

func TestPredictionsNeedHistory(t *testing.T) {
	a := newTestAPI(t, 0)
	token, pharmacyID := a.registerOwner(t, "owner@example.com")
	id := a.addProduct(t, pharmacyID, "Paracetamol")
	a.addHistory(t, pharmacyID, id, 5)

	rec := a.do(t, http.MethodPost, "/forecasting/predictions", token, map[string]any{"type": "product", "id": itoa(id), "horizon": 7})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, forecasting.MsgForecastHistory, decode[map[string]string](t, rec)["error"])
}

func TestPredictionsValidateInput(t *testing.T) {
	a := newTestAPI(t, 0)
	token, pharmacyID := a.registerOwner(t, "owner@example.com")
	id := a.addProduct(t, pharmacyID, "Paracetamol")

	cases := []struct {
		body map[string]any
		code int
	}{
		{map[string]any{"type": "supplier", "id": itoa(id)}, http.StatusBadRequest},
		{map[string]any{"type": "product", "id": "abc"}, http.StatusBadRequest},
		{map[string]any{"type": "product", "id": itoa(id), "horizon": 400}, http.StatusBadRequest},
		{map[string]any{"type": "product", "id": "9999"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := a.do(t, http.MethodPost, "/forecasting/predictions", token, tc.body)
		assert.Equal(t, tc.code, rec.Code, tc.body)
	}
}

func TestPredictionsAndModels(t *testing.T) {
	a := newTestAPI(t, 0)
	token, pharmacyID := a.registerOwner(t, "owner@example.com")
	id := a.addProduct(t, pharmacyID, "Paracetamol")
	a.addHistory(t, pharmacyID, id, 40)

	rec := a.do(t, http.MethodPost, "/forecasting/predictions", token, map[string]any{"type": "product", "id": itoa(id), "horizon": 14})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[domain.ForecastResult](t, rec)
	assert.False(t, res.Baseline)
	assert.Len(t, res.Values, 14)
	assert.Equal(t, "Forecasts generated for Paracetamol", res.Message)
	assert.Equal(t, "2026-04-01", res.Dates[0].String())

	rec = a.do(t, http.MethodGet, "/forecasting/models", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	models := decode[[]domain.ModelAccuracyRecord](t, rec)
	require.Len(t, models, 1)
	assert.Equal(t, "Paracetamol", models[0].TargetName)

	rec = a.do(t, http.MethodGet, "/forecasting/accuracy", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[forecasting.AccuracySummary](t, rec).TotalModels)

	rec = a.do(t, http.MethodGet, "/forecasting/accuracy?type=product&id="+itoa(id), token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/forecasting/historical?type=product&id="+itoa(id)+"&timeframe=7D", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[forecasting.HistoricalSeries](t, rec)
	assert.Len(t, hist.Points, 7)

	rec = a.do(t, http.MethodGet, "/forecasting/historical?type=product&id="+itoa(id)+"&timeframe=2W", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/forecasting/products", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]forecasting.Target](t, rec), 1)

	rec = a.do(t, http.MethodDelete, "/forecasting/models/product/"+itoa(id), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/forecasting/accuracy?type=product&id="+itoa(id), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainingIsOwnerOnlyAndRateLimited(t *testing.T) {
	a := newTestAPI(t, 1)
	token, pharmacyID := a.registerOwner(t, "owner@example.com")
	id := a.addProduct(t, pharmacyID, "Paracetamol")
	a.addHistory(t, pharmacyID, id, 30)

	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "clerk", "email": "clerk@example.com", "password": "x", "role": "employee", "pharmacy_id": pharmacyID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	clerk := decode[authResponse](t, rec).Token

	body := map[string]any{"type": "product", "id": itoa(id)}
	rec = a.do(t, http.MethodPost, "/forecasting/train", clerk, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/forecasting/train", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string]any](t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Model trained on 30 days of real sales for Paracetamol", out["message"])

	rec = a.do(t, http.MethodPost, "/forecasting/train", token, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Employees read forecasts of their pharmacy.
	rec = a.do(t, http.MethodPost, "/forecasting/predictions", clerk, map[string]any{"type": "product", "id": itoa(id), "horizon": 3})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrainingReportsShortHistory(t *testing.T) {
	a := newTestAPI(t, 0)
	token, pharmacyID := a.registerOwner(t, "owner@example.com")
	id := a.addProduct(t, pharmacyID, "Paracetamol")
	a.addHistory(t, pharmacyID, id, 9)

	rec := a.do(t, http.MethodPost, "/forecasting/train", token, map[string]any{"type": "product", "id": itoa(id)})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decode[map[string]any](t, rec)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, forecasting.MsgShortOrFlat, out["message"])
}

func TestTenantIsolation(t *testing.T) {
	a := newTestAPI(t, 0)
	_, firstPharmacy := a.registerOwner(t, "first@example.com")
	second, _ := a.registerOwner(t, "second@example.com")
	id := a.addProduct(t, firstPharmacy, "Paracetamol")
	a.addHistory(t, firstPharmacy, id, 30)

	rec := a.do(t, http.MethodPost, "/forecasting/predictions", second, map[string]any{"type": "product", "id": itoa(id)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/catalog/products", second, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Product](t, rec))
}

func TestBulkPredictions(t *testing.T) {
	a := newTestAPI(t, 0)
	token, pharmacyID := a.registerOwner(t, "owner@example.com")
	good := a.addProduct(t, pharmacyID, "Paracetamol")
	short := a.addProduct(t, pharmacyID, "Ibuprofen")
	a.addHistory(t, pharmacyID, good, 30)
	a.addHistory(t, pharmacyID, short, 3)

	rec := a.do(t, http.MethodPost, "/forecasting/bulk", token, map[string]any{
		"type": "product", "ids": []string{itoa(good), itoa(short)}, "horizon": 5,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[forecasting.BulkResult](t, rec)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "Paracetamol", res.Items[0].TargetName)

	rec = a.do(t, http.MethodPost, "/forecasting/bulk", token, map[string]any{"type": "product", "ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
