package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tiercache/internal/cache"
	"tiercache/internal/circuitbreaker"
	"tiercache/internal/common/logging"
	"tiercache/internal/metrics"
	"tiercache/internal/middleware"
	"tiercache/internal/warmup"
)

// Handlers serves the operational endpoints over the cache manager.
type Handlers struct {
	manager   *cache.Manager
	warmer    *warmup.Warmer
	collector *metrics.Collector
	logger    logging.Logger
}

// NewHandlers creates the handler set. The warmer may be nil, which disables
// the manual warm endpoint. A nil collector gets a default one over the
// manager's stats.
func NewHandlers(manager *cache.Manager, warmer *warmup.Warmer, collector *metrics.Collector, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if collector == nil {
		collector = metrics.New("", manager)
	}
	return &Handlers{
		manager:   manager,
		warmer:    warmer,
		collector: collector,
		logger:    logger,
	}
}

// NewRouter builds the operations router.
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	// Read-only surface
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", h.collector.Handler()).Methods("GET")

	// Operator actions
	router.HandleFunc("/invalidate", h.Invalidate).Methods("POST")
	router.HandleFunc("/keys/{key}", h.DeleteKey).Methods("DELETE")
	router.HandleFunc("/warm", h.Warm).Methods("POST")

	return router
}

// GetStats returns the cache statistics snapshot together with the circuit
// breaker detail.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Cache          cache.Snapshot          `json:"cache"`
		CircuitBreaker circuitbreaker.Snapshot `json:"circuit_breaker"`
	}{
		Cache:          h.manager.Stats(),
		CircuitBreaker: h.manager.BreakerSnapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HealthCheck reports component health. The local tier always serves, so a
// broken remote tier degrades the status without failing the check.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.manager.Stats()

	status := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now(),
		"l1_entries":      snap.L1Size,
		"circuit_breaker": snap.CircuitBreakerState,
	}

	if !h.manager.RemoteConfigured() {
		status["remote_status"] = "not_configured"
	} else if err := h.manager.PingRemote(r.Context()); err != nil {
		status["remote_status"] = "unhealthy"
		status["remote_error"] = err.Error()
		status["status"] = "degraded"
	} else {
		status["remote_status"] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// invalidateRequest is the POST /invalidate body.
type invalidateRequest struct {
	Tags    []string `json:"tags"`
	Pattern string   `json:"pattern"`
}

// Invalidate removes entries by tag and/or key pattern across both tiers and
// returns how many local entries were dropped.
func (h *Handlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Tags) == 0 && req.Pattern == "" {
		http.Error(w, "tags or pattern required", http.StatusBadRequest)
		return
	}

	invalidated := 0
	if len(req.Tags) > 0 {
		invalidated += h.manager.InvalidateTags(r.Context(), req.Tags)
	}
	if req.Pattern != "" {
		invalidated += h.manager.Clear(r.Context(), req.Pattern)
	}

	h.logger.Info("manual invalidation",
		logging.Int("tags", len(req.Tags)),
		logging.String("pattern", req.Pattern),
		logging.Int("invalidated", invalidated),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"invalidated": invalidated})
}

// DeleteKey removes a single key from both tiers.
func (h *Handlers) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	deleted := h.manager.Delete(r.Context(), key)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"key": key, "deleted": deleted})
}

// Warm runs the registered warming tasks immediately.
func (h *Handlers) Warm(w http.ResponseWriter, r *http.Request) {
	if h.warmer == nil {
		http.Error(w, "Warming not configured", http.StatusServiceUnavailable)
		return
	}

	ran, failed := h.warmer.Warm(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"ran": ran, "failed": failed})
}
