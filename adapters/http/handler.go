// Package http provides the HTTP surface of the usage service: event
// ingestion, keyed reads, and the dashboard with its live stream.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/adapters/metrics"
	"github.com/artpar/agentmeter/app"
	"github.com/artpar/agentmeter/domain/event"
)

// defaultRecentLimit is how many events GET /api/usage returns when no
// limit is given. It is also the maximum a caller may request.
const defaultRecentLimit = 100

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// KeyInfo describes the calling key in the recent-usage response. The
// secret and its hash never appear here.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// RecordResponse acknowledges one ingested event.
type RecordResponse struct {
	ID        string  `json:"id"`
	Seq       int64   `json:"seq"`
	AgentType string  `json:"agent_type"`
	CostUSD   float64 `json:"cost_usd"`
}

// Handler wraps the application services for HTTP handling.
type Handler struct {
	ingest  *app.IngestService
	dash    *app.DashboardService
	metrics *metrics.Collector
	logger  zerolog.Logger
	version string
}

// HandlerConfig contains dependencies for the HTTP handler.
type HandlerConfig struct {
	Ingest  *app.IngestService
	Dash    *app.DashboardService
	Metrics *metrics.Collector
	Logger  zerolog.Logger
	Version string
}

// NewHandler creates a new HTTP handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		ingest:  cfg.Ingest,
		dash:    cfg.Dash,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		version: cfg.Version,
	}
}

// Router creates the main HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)

	if h.metrics != nil {
		r.Use(NewMetricsMiddleware(h.metrics))
	}

	// Health and introspection (no auth required)
	r.Get("/healthz", h.Health)
	r.Get("/version", h.Version)
	if h.metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Usage API, authenticated by API key
	r.Route("/api", func(r chi.Router) {
		// The stream holds its connection open; everything else gets
		// a request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/usage", h.RecordUsage)
			r.Get("/usage", h.RecentUsage)
			r.Get("/dashboard", h.Dashboard)
		})
		r.Get("/dashboard/stream", h.DashboardStream)
	})

	return r
}

// Health returns a simple liveness check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Version returns the build version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: h.version, Service: "agentmeter"})
}

// RecordUsage ingests one usage event.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	rawKey, ok := bearerToken(r)
	if !ok {
		writeError(w, &event.ErrMissingKey)
		return
	}

	var p event.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&p); err != nil {
		writeError(w, &event.ErrorResponse{
			Status:  400,
			Code:    "validation_error",
			Message: "Request body must be valid JSON",
		})
		return
	}

	stored, errResp := h.ingest.Record(r.Context(), rawKey, p)
	if errResp != nil {
		writeError(w, errResp)
		return
	}

	writeJSON(w, http.StatusCreated, RecordResponse{
		ID:        stored.ID,
		Seq:       stored.Seq,
		AgentType: string(stored.AgentType),
		CostUSD:   stored.CostUSD,
	})
}

// RecentUsage returns the latest events recorded with the calling key,
// newest first.
func (h *Handler) RecentUsage(w http.ResponseWriter, r *http.Request) {
	rawKey, ok := bearerToken(r)
	if !ok {
		writeError(w, &event.ErrMissingKey)
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > defaultRecentLimit {
			writeError(w, &event.ErrorResponse{
				Status:  400,
				Code:    "validation_error",
				Message: "limit must be an integer between 1 and 100",
			})
			return
		}
		limit = n
	}

	matched, events, errResp := h.ingest.RecentForKey(r.Context(), rawKey, limit)
	if errResp != nil {
		writeError(w, errResp)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key": KeyInfo{
			ID:        matched.ID,
			Name:      matched.Name,
			CreatedAt: matched.CreatedAt,
			LastUsed:  matched.LastUsed,
		},
		"events": events,
	})
}

// Dashboard returns the caller's full aggregated snapshot.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	rawKey, ok := bearerToken(r)
	if !ok {
		writeError(w, &event.ErrMissingKey)
		return
	}

	matched, errResp := h.ingest.Authenticate(r.Context(), rawKey)
	if errResp != nil {
		writeError(w, errResp)
		return
	}

	snap, _, err := h.dash.Fetch(r.Context(), matched.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", matched.UserID).Msg("dashboard fetch")
		writeError(w, &event.ErrSnapshotUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// bearerToken extracts the API key from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, errResp *event.ErrorResponse) {
	writeJSON(w, errResp.Status, map[string]any{
		"error": map[string]string{
			"code":    errResp.Code,
			"message": errResp.Message,
		},
	})
}
