package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/engine"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; large leg pools with history fit well below it
const maxBodyBytes = 4 << 20

// Handler contains dependencies for HTTP handlers
type Handler struct {
	engine  *engine.Engine
	ctx     context.Context
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a new handler. ctx bounds websocket sessions, which outlive
// their upgrade request.
func NewHandler(ctx context.Context, eng *engine.Engine, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		engine:  eng,
		ctx:     ctx,
		timeout: timeout,
		logger:  logger,
	}
}

// Routes builds the service router. metricsHandler may be nil.
func (h *Handler) Routes(allowedOrigins []string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Websocket sessions manage their own lifetime
	r.Get("/ws/optimize", h.HandleOptimizeStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(h.timeout))

		r.Get("/api/v1/profiles", h.Profiles)
		r.Post("/api/v1/optimize", h.Optimize)
		r.Post("/api/v1/correlation", h.Correlation)
		r.Post("/api/v1/validate", h.Validate)
		r.Post("/api/v1/stake", h.Stake)
	})

	return r
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	runs, failures := h.engine.GetMetrics()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"service":  "parlay-optimizer",
		"runs":     runs,
		"failures": failures,
	})
}

// Profiles lists the preset risk profiles
func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.Profiles())
}

// Optimize runs a full optimization and returns the ranked slips
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req models.OptimizeRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.engine.Optimize(r.Context(), req, nil)
	if err != nil {
		h.respondEngineError(w, "optimize", err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Correlation returns the PSD correlation matrix for a leg pool
func (h *Handler) Correlation(w http.ResponseWriter, r *http.Request) {
	var req models.CorrelationRequest
	if !decode(w, r, &req) {
		return
	}

	matrix, err := h.engine.Correlation(r.Context(), req.Legs, req.History, req.Correlation)
	if err != nil {
		h.respondEngineError(w, "correlation", err)
		return
	}

	respondJSON(w, http.StatusOK, matrix)
}

// Validate scores a caller-built slip and reports every violated rule
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.engine.Validate(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, "validate", err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Stake sizes a single wager with fractional Kelly
func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	var req models.StakeRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.engine.Stake(req)
	if err != nil {
		h.respondEngineError(w, "stake", err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondEngineError(w http.ResponseWriter, op string, err error) {
	if engine.IsClientError(err) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	respondError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", op))
}

// decode parses a JSON body, writing a 400 on failure
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
