package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"pharmacore/m/domain"
	"pharmacore/m/internal/forecasting"
	"pharmacore/m/internal/telemetry"
)

type ctxKey string

const (
	ctxUserID     ctxKey = "userID"
	ctxRole       ctxKey = "role"
	ctxPharmacyID ctxKey = "pharmacyID"
)

// Options configures a Handler. Zero values pick defaults.
type Options struct {
	Logger *zerolog.Logger
	// Registry receives the API collectors and is served on /metrics.
	Registry *prometheus.Registry
	// TrainPerMinute bounds training requests per pharmacy.
	TrainPerMinute int
	Now            func() time.Time
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db        *sqlx.DB
	secret    string
	forecasts *forecasting.Service
	log       zerolog.Logger
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	now       func() time.Time

	trainRate  int
	limitersMu sync.Mutex
	limiters   map[int64]*rate.Limiter
}

// New constructs a Handler.
func New(db *sqlx.DB, secret string, forecasts *forecasting.Service, opts Options) *Handler {
	h := &Handler{
		db:        db,
		secret:    secret,
		forecasts: forecasts,
		log:       zerolog.Nop(),
		registry:  opts.Registry,
		now:       opts.Now,
		trainRate: opts.TrainPerMinute,
		limiters:  make(map[int64]*rate.Limiter),
	}
	if opts.Logger != nil {
		h.log = opts.Logger.With().Str("component", "api").Logger()
	}
	if h.registry == nil {
		h.registry = prometheus.NewRegistry()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.trainRate <= 0 {
		h.trainRate = 6
	}
	h.requests = promauto.With(h.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacore_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "status"})
	return h
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(telemetry.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(h.countRequests)

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Post("/reset-password", h.resetPassword)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/catalog", func(r chi.Router) {
			r.Get("/categories", h.listCategories)
			r.Post("/categories", h.createCategory)
			r.Get("/products", h.listProducts)
			r.Post("/products", h.createProduct)
			r.Put("/products/{id}/stock", h.updateStock)
		})

		pr.Post("/sales", h.createSale)
		pr.Get("/sales/{id}", h.getSale)
		pr.Get("/reports/sales/daily", h.dailySales)

		pr.Route("/forecasting", func(r chi.Router) {
			r.Get("/historical", h.historical)
			r.Post("/train", h.train)
			r.Post("/predictions", h.predictions)
			r.Post("/bulk", h.bulkPredictions)
			r.Get("/models", h.listModels)
			r.Delete("/models/{kind}/{id}", h.deleteModel)
			r.Get("/accuracy", h.accuracy)
			r.Get("/products", h.forecastableProducts)
			r.Get("/categories", h.forecastableCategories)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

// Authentication helpers

type authClaims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role"`
	PharmacyID int64  `json:"pharmacy_id,omitempty"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64, role string, pharmacyID int64) (string, error) {
	now := h.now()
	claims := authClaims{
		UserID:     userID,
		Role:       role,
		PharmacyID: pharmacyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		}, jwt.WithTimeFunc(h.now))
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		ctx = context.WithValue(ctx, ctxPharmacyID, claims.PharmacyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	current, _ := r.Context().Value(ctxRole).(string)
	if current == "" {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

// pharmacyScope returns the caller's pharmacy. Every tenant-scoped route
// operates on the pharmacy carried in the token.
func (h *Handler) pharmacyScope(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, _ := r.Context().Value(ctxPharmacyID).(int64)
	if id <= 0 {
		respondError(w, http.StatusForbidden, "account is not attached to a pharmacy")
		return 0, false
	}
	return id, true
}

// Auth Handlers

type registerRequest struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	Role             string `json:"role"`
	PharmacyID       int64  `json:"pharmacy_id,omitempty"`
	PharmacyName     string `json:"pharmacy_name,omitempty"`
	PharmacyAddress  string `json:"pharmacy_address,omitempty"`
	PharmacyLocation string `json:"pharmacy_location,omitempty"`
}

type authResponse struct {
	Token    string           `json:"token"`
	User     domain.User      `json:"user"`
	Pharmacy *domain.Pharmacy `json:"pharmacy,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "username, email, password and role are required")
		return
	}
	if req.Role != domain.RoleOwner && req.Role != domain.RoleEmployee {
		respondError(w, http.StatusBadRequest, "role must be owner or employee")
		return
	}
	if req.Role == domain.RoleOwner && strings.TrimSpace(req.PharmacyName) == "" {
		respondError(w, http.StatusBadRequest, "pharmacy_name is required for owners")
		return
	}
	if req.Role == domain.RoleEmployee && req.PharmacyID <= 0 {
		respondError(w, http.StatusBadRequest, "pharmacy_id is required for employees")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start registration")
		return
	}
	defer tx.Rollback()

	if req.Role == domain.RoleEmployee {
		var exists int64
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT id FROM pharmacies WHERE id = ?`), req.PharmacyID); err != nil {
			respondError(w, http.StatusBadRequest, "pharmacy not found")
			return
		}
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var userID int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO users (username, email, password, role) VALUES (?, ?, ?, ?) RETURNING id`),
		req.Username, email, string(hashed), req.Role).Scan(&userID)
	if err != nil {
		respondError(w, http.StatusConflict, "email already exists")
		return
	}

	pharmacyID := req.PharmacyID
	var pharmacy *domain.Pharmacy
	if req.Role == domain.RoleOwner {
		err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO pharmacies (name, address, location, owner_id) VALUES (?, ?, ?, ?) RETURNING id`),
			req.PharmacyName, req.PharmacyAddress, req.PharmacyLocation, userID).Scan(&pharmacyID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to create pharmacy for owner")
			return
		}
		pharmacy = &domain.Pharmacy{
			ID:       pharmacyID,
			Name:     req.PharmacyName,
			Address:  req.PharmacyAddress,
			Location: req.PharmacyLocation,
			OwnerID:  &userID,
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET pharmacy_id = ? WHERE id = ?`), pharmacyID, userID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to attach pharmacy")
		return
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to complete registration")
		return
	}

	token, err := h.generateToken(userID, req.Role, pharmacyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, authResponse{
		Token:    token,
		User:     domain.User{ID: userID, Username: req.Username, Email: email, Role: req.Role, PharmacyID: &pharmacyID},
		Pharmacy: pharmacy,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user domain.User
	err := h.db.GetContext(r.Context(), &user, h.db.Rebind(`SELECT id, username, email, password, role, pharmacy_id FROM users WHERE email = ?`),
		strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var pharmacyID int64
	if user.PharmacyID != nil {
		pharmacyID = *user.PharmacyID
	}
	token, err := h.generateToken(user.ID, user.Role, pharmacyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "new_password is required")
		return
	}
	uid, _ := r.Context().Value(ctxUserID).(int64)
	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	if _, err := h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE users SET password = ? WHERE id = ?`), string(hashed), uid); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update password")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

// Helpers

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
