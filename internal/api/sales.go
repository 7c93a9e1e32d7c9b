package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"pharmacore/m/domain"
)

type saleItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type saleRequest struct {
	Items      []saleItemRequest `json:"items"`
	Discount   float64           `json:"discount"`
	PaidAmount float64           `json:"paid_amount"`
}

type productSnapshot struct {
	ID        int64   `db:"id"`
	UnitPrice float64 `db:"unit_price"`
	Stock     int64   `db:"stock"`
}

const upsertDailySales = `INSERT INTO historical_sales_daily (pharmacy_id, product_id, sale_date, quantity_sold, total_revenue)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (pharmacy_id, product_id, sale_date) DO UPDATE SET
		quantity_sold = historical_sales_daily.quantity_sold + EXCLUDED.quantity_sold,
		total_revenue = COALESCE(historical_sales_daily.total_revenue, 0) + EXCLUDED.total_revenue`

// createSale records a sale, decrements stock and folds the quantities into
// the daily history the forecasts train on, all in one transaction.
func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleOwner, domain.RoleEmployee) {
		return
	}
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "at least one item is required")
		return
	}
	if req.Discount < 0 || req.PaidAmount < 0 {
		respondError(w, http.StatusBadRequest, "discount and paid_amount must not be negative")
		return
	}

	// Repeated lines of one product are merged before the stock check.
	quantities := make(map[int64]int64)
	var order []int64
	for _, item := range req.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "product_id and quantity are required for each item")
			return
		}
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start sale")
		return
	}
	defer tx.Rollback()

	snapshots := make(map[int64]productSnapshot, len(order))
	total := decimal.Zero
	for _, id := range order {
		var snap productSnapshot
		err := tx.GetContext(ctx, &snap, tx.Rebind(`SELECT id, unit_price, stock FROM products WHERE pharmacy_id = ? AND id = ?`), pharmacyID, id)
		if isNoRows(err) {
			respondError(w, http.StatusBadRequest, "product not found for one or more items")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to fetch products")
			return
		}
		if snap.Stock < quantities[id] {
			respondError(w, http.StatusBadRequest, "insufficient stock for one or more items")
			return
		}
		snapshots[id] = snap
		total = total.Add(decimal.NewFromFloat(snap.UnitPrice).Mul(decimal.NewFromInt(quantities[id])))
	}

	discount := decimal.NewFromFloat(req.Discount)
	paid := decimal.NewFromFloat(req.PaidAmount)
	final := decimal.Max(total.Sub(discount), decimal.Zero)
	due := decimal.Max(final.Sub(paid), decimal.Zero)

	now := h.now().UTC()
	userID, _ := r.Context().Value(ctxUserID).(int64)
	var saleID int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO sales (pharmacy_id, user_id, total_amount, discount, paid_amount, due_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		pharmacyID, userID, total.InexactFloat64(), discount.InexactFloat64(), paid.InexactFloat64(), due.InexactFloat64(),
		domain.Timestamp{Time: now}).Scan(&saleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create sale")
		return
	}

	saleDate := domain.NewDate(now)
	for _, id := range order {
		snap, qty := snapshots[id], quantities[id]
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`), qty, id, qty)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to update stock")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			respondError(w, http.StatusConflict, "stock changed during sale")
			return
		}
		subtotal := decimal.NewFromFloat(snap.UnitPrice).Mul(decimal.NewFromInt(qty)).Round(2)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?)`),
			saleID, id, qty, snap.UnitPrice, subtotal.InexactFloat64()); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to save sale items")
			return
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(upsertDailySales), pharmacyID, id, saleDate, float64(qty), subtotal.InexactFloat64()); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to record daily sales")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to finalize sale")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"sale_id":      saleID,
		"total":        total.Round(2).InexactFloat64(),
		"discount":     discount.InexactFloat64(),
		"paid_amount":  paid.InexactFloat64(),
		"due_amount":   due.Round(2).InexactFloat64(),
		"final_amount": final.Round(2).InexactFloat64(),
	})
}

// dailySales summarises one day of the caller's sales, today by default.
func (h *Handler) dailySales(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	day := domain.NewDate(h.now())
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := domain.ParseDate(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be in YYYY-MM-DD format")
			return
		}
		day = parsed
	}
	from := domain.Timestamp{Time: day.Time}
	to := domain.Timestamp{Time: day.AddDays(1).Time}

	var summary struct {
		Revenue float64 `db:"revenue"`
		Count   int64   `db:"count"`
	}
	err := h.db.GetContext(r.Context(), &summary, h.db.Rebind(`SELECT COALESCE(SUM(total_amount - discount), 0) AS revenue, COUNT(*) AS count
		FROM sales WHERE pharmacy_id = ? AND created_at >= ? AND created_at < ?`), pharmacyID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch daily sales")
		return
	}
	var items float64
	err = h.db.GetContext(r.Context(), &items, h.db.Rebind(`SELECT COALESCE(SUM(quantity_sold), 0)
		FROM historical_sales_daily WHERE pharmacy_id = ? AND sale_date = ?`), pharmacyID, day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch daily sales")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"date":        day,
		"revenue":     decimal.NewFromFloat(summary.Revenue).Round(2).InexactFloat64(),
		"sales_count": summary.Count,
		"items_sold":  items,
	})
}

type saleDetail struct {
	domain.Sale
	Items []domain.SaleItem `json:"items"`
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}
	var detail saleDetail
	err := h.db.GetContext(r.Context(), &detail.Sale, h.db.Rebind(`SELECT id, pharmacy_id, user_id, total_amount, discount, paid_amount, due_amount, created_at
		FROM sales WHERE id = ? AND pharmacy_id = ?`), id, pharmacyID)
	if isNoRows(err) {
		respondError(w, http.StatusNotFound, "sale not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load sale")
		return
	}
	detail.Items = []domain.SaleItem{}
	if err := h.db.SelectContext(r.Context(), &detail.Items, h.db.Rebind(`SELECT id, sale_id, product_id, quantity, unit_price, subtotal
		FROM sale_items WHERE sale_id = ? ORDER BY id`), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load sale items")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}
