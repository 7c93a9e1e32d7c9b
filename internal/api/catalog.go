package api

import (
	"net/http"
	"strings"

	"pharmacore/m/domain"
)

type categoryRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleOwner, domain.RoleEmployee) {
		return
	}
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	var id int64
	err := h.db.QueryRowxContext(r.Context(), h.db.Rebind(`INSERT INTO product_categories (pharmacy_id, name) VALUES (?, ?) RETURNING id`),
		pharmacyID, name).Scan(&id)
	if err != nil {
		respondError(w, http.StatusConflict, "category already exists")
		return
	}
	respondJSON(w, http.StatusCreated, domain.Category{ID: id, PharmacyID: pharmacyID, Name: name})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	categories := []domain.Category{}
	if err := h.db.SelectContext(r.Context(), &categories, h.db.Rebind(`SELECT id, pharmacy_id, name FROM product_categories
		WHERE pharmacy_id = ? ORDER BY name`), pharmacyID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list categories")
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

type productRequest struct {
	Name       string  `json:"name"`
	CategoryID *int64  `json:"category_id"`
	UnitPrice  float64 `json:"unit_price"`
	CostPrice  float64 `json:"cost_price"`
	Stock      int64   `json:"stock"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleOwner, domain.RoleEmployee) {
		return
	}
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.UnitPrice <= 0 || req.CostPrice < 0 || req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "name and a positive unit_price are required")
		return
	}
	ctx := r.Context()
	if req.CategoryID != nil {
		var owner int64
		err := h.db.GetContext(ctx, &owner, h.db.Rebind(`SELECT pharmacy_id FROM product_categories WHERE id = ?`), *req.CategoryID)
		if err != nil || owner != pharmacyID {
			respondError(w, http.StatusBadRequest, "category not found")
			return
		}
	}
	product := domain.Product{
		PharmacyID: pharmacyID,
		CategoryID: req.CategoryID,
		Name:       req.Name,
		UnitPrice:  req.UnitPrice,
		CostPrice:  req.CostPrice,
		Stock:      req.Stock,
	}
	err := h.db.QueryRowxContext(ctx, h.db.Rebind(`INSERT INTO products (pharmacy_id, category_id, name, unit_price, cost_price, stock)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		pharmacyID, req.CategoryID, req.Name, req.UnitPrice, req.CostPrice, req.Stock).Scan(&product.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create product")
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	query := `SELECT id, pharmacy_id, category_id, name, unit_price, cost_price, stock, created_at
		FROM products WHERE pharmacy_id = ?`
	args := []any{pharmacyID}
	if q := strings.TrimSpace(r.URL.Query().Get("query")); q != "" {
		query += " AND LOWER(name) LIKE ?"
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	query += " ORDER BY name LIMIT 100"

	products := []domain.Product{}
	if err := h.db.SelectContext(r.Context(), &products, h.db.Rebind(query), args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list products")
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handler) updateStock(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleOwner, domain.RoleEmployee) {
		return
	}
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var payload struct {
		Stock int64 `json:"stock"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Stock < 0 {
		respondError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}
	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE products SET stock = ? WHERE id = ? AND pharmacy_id = ?`),
		payload.Stock, id, pharmacyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update stock")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stock updated"})
}
