package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"pharmacore/m/domain"
	"pharmacore/m/internal/forecasting"
)

const (
	defaultHorizon = 30
	maxHorizon     = 365
	maxBulkTargets = 50
)

type targetRequest struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Horizon      int    `json:"horizon,omitempty"`
	LookbackDays int    `json:"lookback_days,omitempty"`
}

// resolveTarget validates the kind and id and returns the target's display
// name. A target outside the caller's pharmacy is reported as not found.
func (h *Handler) resolveTarget(ctx context.Context, pharmacyID int64, kind, id string) (domain.TargetKind, string, int, string) {
	k, err := domain.ParseTargetKind(kind)
	if err != nil {
		return "", "", http.StatusBadRequest, "type must be product or category"
	}
	numeric, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || numeric <= 0 {
		return "", "", http.StatusBadRequest, "id must be a positive integer"
	}
	table := "products"
	if k == domain.TargetCategory {
		table = "product_categories"
	}
	var name string
	err = h.db.GetContext(ctx, &name, h.db.Rebind(`SELECT name FROM `+table+` WHERE id = ? AND pharmacy_id = ?`), numeric, pharmacyID)
	if isNoRows(err) {
		return "", "", http.StatusNotFound, string(k) + " not found"
	}
	if err != nil {
		return "", "", http.StatusInternalServerError, "unable to look up " + string(k)
	}
	return k, name, 0, ""
}

func (h *Handler) historical(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	kind, _, status, msg := h.resolveTarget(r.Context(), pharmacyID, q.Get("type"), q.Get("id"))
	if status != 0 {
		respondError(w, status, msg)
		return
	}
	key := forecasting.ModelKey{PharmacyID: pharmacyID, Kind: kind, TargetID: strings.TrimSpace(q.Get("id"))}
	series, err := h.forecasts.HistoricalSeries(r.Context(), key, q.Get("timeframe"))
	if err != nil {
		h.forecastError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, series)
}

func (h *Handler) allowTraining(pharmacyID int64) bool {
	h.limitersMu.Lock()
	defer h.limitersMu.Unlock()
	l, ok := h.limiters[pharmacyID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.trainRate)), h.trainRate)
		h.limiters[pharmacyID] = l
	}
	return l.AllowN(h.now(), 1)
}

func (h *Handler) train(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleOwner) {
		return
	}
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, name, status, msg := h.resolveTarget(r.Context(), pharmacyID, req.Type, req.ID)
	if status != 0 {
		respondError(w, status, msg)
		return
	}
	if req.LookbackDays < 0 {
		respondError(w, http.StatusBadRequest, "lookback_days must not be negative")
		return
	}
	if !h.allowTraining(pharmacyID) {
		respondError(w, http.StatusTooManyRequests, "training rate limit exceeded, try again later")
		return
	}

	res, message, err := h.forecasts.Train(r.Context(), forecasting.TrainRequest{
		PharmacyID:   pharmacyID,
		Kind:         kind,
		TargetID:     strings.TrimSpace(req.ID),
		TargetName:   name,
		LookbackDays: req.LookbackDays,
	})
	if err != nil {
		h.forecastError(w, err)
		return
	}
	if res == nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": message})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": message, "result": res})
}

func parseHorizon(v int) (int, bool) {
	if v == 0 {
		return defaultHorizon, true
	}
	return v, v > 0 && v <= maxHorizon
}

func (h *Handler) predictions(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	horizon, ok := parseHorizon(req.Horizon)
	if !ok {
		respondError(w, http.StatusBadRequest, "horizon must be between 1 and 365")
		return
	}
	kind, name, status, msg := h.resolveTarget(r.Context(), pharmacyID, req.Type, req.ID)
	if status != 0 {
		respondError(w, status, msg)
		return
	}
	res, err := h.forecasts.Forecast(r.Context(), forecasting.ForecastRequest{
		PharmacyID: pharmacyID,
		Kind:       kind,
		TargetID:   strings.TrimSpace(req.ID),
		TargetName: name,
		Horizon:    horizon,
	})
	if err != nil {
		h.forecastError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type bulkRequest struct {
	Type    string   `json:"type"`
	IDs     []string `json:"ids"`
	Horizon int      `json:"horizon,omitempty"`
}

func (h *Handler) bulkPredictions(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxBulkTargets {
		respondError(w, http.StatusBadRequest, "ids must hold between 1 and 50 targets")
		return
	}
	horizon, ok := parseHorizon(req.Horizon)
	if !ok {
		respondError(w, http.StatusBadRequest, "horizon must be between 1 and 365")
		return
	}
	kind, err := domain.ParseTargetKind(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "type must be product or category")
		return
	}
	targets := make([]forecasting.BulkTarget, 0, len(req.IDs))
	for _, id := range req.IDs {
		_, name, status, _ := h.resolveTarget(r.Context(), pharmacyID, string(kind), id)
		if status == http.StatusInternalServerError {
			respondError(w, status, "unable to look up targets")
			return
		}
		// Unknown ids stay in the batch and fail individually.
		targets = append(targets, forecasting.BulkTarget{ID: strings.TrimSpace(id), Name: name})
	}
	res, err := h.forecasts.BulkForecast(r.Context(), pharmacyID, kind, targets, horizon)
	if err != nil {
		h.forecastError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	models, err := h.forecasts.ListModels(r.Context(), pharmacyID)
	if err != nil {
		h.forecastError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models)
}

func (h *Handler) deleteModel(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleOwner) {
		return
	}
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	kind, err := domain.ParseTargetKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "kind must be product or category")
		return
	}
	key := forecasting.ModelKey{PharmacyID: pharmacyID, Kind: kind, TargetID: chi.URLParam(r, "id")}
	if err := h.forecasts.DeleteModel(r.Context(), key); err != nil {
		h.forecastError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// accuracy returns one target's record when type and id are given, otherwise
// the pharmacy-wide summary.
func (h *Handler) accuracy(w http.ResponseWriter, r *http.Request) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if q.Get("id") == "" {
		summary, err := h.forecasts.AccuracySummary(r.Context(), pharmacyID)
		if err != nil {
			h.forecastError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, summary)
		return
	}
	kind, err := domain.ParseTargetKind(q.Get("type"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "type must be product or category")
		return
	}
	rec, err := h.forecasts.Accuracy(r.Context(), forecasting.ModelKey{PharmacyID: pharmacyID, Kind: kind, TargetID: q.Get("id")})
	if err != nil {
		h.forecastError(w, err)
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "no trained model for this target")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handler) forecastableProducts(w http.ResponseWriter, r *http.Request) {
	h.forecastable(w, r, h.forecasts.ForecastableProducts)
}

func (h *Handler) forecastableCategories(w http.ResponseWriter, r *http.Request) {
	h.forecastable(w, r, h.forecasts.ForecastableCategories)
}

func (h *Handler) forecastable(w http.ResponseWriter, r *http.Request, list func(context.Context, int64, int) ([]forecasting.Target, error)) {
	pharmacyID, ok := h.pharmacyScope(w, r)
	if !ok {
		return
	}
	minDays := 0
	if raw := r.URL.Query().Get("min_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "min_days must be a non-negative integer")
			return
		}
		minDays = n
	}
	targets, err := list(r.Context(), pharmacyID, minDays)
	if err != nil {
		h.forecastError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, targets)
}

// forecastError maps forecasting failures onto HTTP statuses.
func (h *Handler) forecastError(w http.ResponseWriter, err error) {
	var insufficient *forecasting.InsufficientDataError
	var fitting *forecasting.ModelFittingError
	switch {
	case errors.As(err, &insufficient):
		respondError(w, http.StatusBadRequest, insufficient.Reason)
	case errors.Is(err, forecasting.ErrInsufficientData):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, forecasting.ErrInvalidTimeframe):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fitting):
		h.log.Warn().Err(err).Msg("model fitting failed")
		respondError(w, http.StatusUnprocessableEntity, fitting.Error())
	case errors.Is(err, forecasting.ErrUnsupportedModel):
		h.log.Error().Err(err).Msg("stored model cannot forecast")
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		h.log.Error().Err(err).Msg("forecasting request failed")
		respondError(w, http.StatusInternalServerError, "forecasting failed")
	}
}
