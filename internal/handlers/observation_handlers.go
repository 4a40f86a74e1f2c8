package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"weather-ingest/internal/repository"
	"weather-ingest/internal/services"
	"weather-ingest/pkg/logging"
	"weather-ingest/pkg/metrics"
)

// ObservationHandler handles observation API endpoints
type ObservationHandler struct {
	queryService *services.QueryService
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewObservationHandler creates a new observation handler
func NewObservationHandler(
	queryService *services.QueryService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ObservationHandler {
	return &ObservationHandler{
		queryService: queryService,
		logger:       logger,
		metrics:      metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RangeResponse represents a range query response
type RangeResponse struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
}

// GetObservations handles GET /api/observations
func (h *ObservationHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/observations").Observe(time.Since(startTime).Seconds())
	}()

	locationID := r.URL.Query().Get("location_id")
	if locationID == "" {
		h.sendError(w, r, "location_id is required", http.StatusBadRequest)
		return
	}

	// Optional bounds: default to all history up to now.
	from := time.Time{}
	to := time.Now().UTC()

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			h.sendError(w, r, "invalid from, expected RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		from = parsed
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			h.sendError(w, r, "invalid to, expected RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		to = parsed
	}

	observations, err := h.queryService.QueryRange(ctx, locationID, from, to)
	if err != nil {
		h.logger.Error(ctx, "[API_RANGE_ERROR] Failed to query observations", logging.Fields{
			"location_id": locationID,
		}, err)
		h.sendError(w, r, "failed to retrieve observations", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/observations", "GET", "200")
	h.sendJSON(w, RangeResponse{Data: observations, Count: len(observations)}, http.StatusOK)
}

// GetLatestObservation handles GET /api/observations/latest
func (h *ObservationHandler) GetLatestObservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/observations/latest").Observe(time.Since(startTime).Seconds())
	}()

	locationID := r.URL.Query().Get("location_id")
	if locationID == "" {
		h.sendError(w, r, "location_id is required", http.StatusBadRequest)
		return
	}

	obs, err := h.queryService.GetLatest(ctx, locationID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}

		h.logger.Error(ctx, "[API_LATEST_ERROR] Failed to get latest observation", logging.Fields{
			"location_id": locationID,
		}, err)
		h.sendError(w, r, "failed to retrieve observation", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/observations/latest", "GET", "200")
	h.sendJSON(w, obs, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ObservationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.queryService.HealthCheck(ctx); err != nil {
		h.sendError(w, r, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.sendJSON(w, status, http.StatusOK)
}

// RequestIDMiddleware tags each request with a unique identifier that flows
// into every log entry emitted while handling it.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sendJSON sends a JSON response
func (h *ObservationHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ObservationHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all observation API routes
func (h *ObservationHandler) RegisterRoutes(router *mux.Router) {
	router.Use(RequestIDMiddleware)
	router.HandleFunc("/api/observations", h.GetObservations).Methods("GET")
	router.HandleFunc("/api/observations/latest", h.GetLatestObservation).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
