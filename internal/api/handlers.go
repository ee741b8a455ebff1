package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ReadinessChecker reports whether a dependency can serve requests.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Handler contains the unauthenticated operational endpoints.
type Handler struct {
	ready ReadinessChecker
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(ready ReadinessChecker) *Handler {
	return &Handler{ready: ready}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Reason    string    `json:"reason,omitempty"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "doc-approval",
		Version:   Version,
	})
}

// HandleReady returns 503 while the backing store is unreachable.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Service:   "doc-approval",
		Version:   Version,
	}
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ready(ctx); err != nil {
			status.Status = "unavailable"
			status.Reason = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
