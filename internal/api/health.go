package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
	service string
	journal Pinger
	timeout time.Duration
	now     func() time.Time
}

// NewHealthHandler creates a new health handler. journal may be nil.
func NewHealthHandler(base *Handler, service string, journal Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}
	return &HealthHandler{Handler: base, service: service, journal: journal, timeout: timeout, now: time.Now}
}

// Health returns the service status and the number of tracked sessions.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":          "healthy",
		"service":         h.service,
		"timestamp":       h.now().Format(time.RFC3339),
		"active_sessions": h.sessions.ActiveCount(),
	}
	statusCode := http.StatusOK

	if h.journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.journal.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			status["journal"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
