package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/compai/avatar-relay/internal/completion"
	"github.com/go-chi/chi/v5"
)

// CompletionSettings reads and replaces the completion parameters at runtime.
type CompletionSettings interface {
	Settings() completion.Settings
	Update(u completion.SettingsUpdate) (completion.Settings, error)
}

// AdminHandler handles administrative endpoints guarded by a static bearer token.
type AdminHandler struct {
	completion CompletionSettings
	token      string
}

// NewAdminHandler creates a new admin handler. An empty token disables every admin route.
func NewAdminHandler(settings CompletionSettings, token string) *AdminHandler {
	return &AdminHandler{completion: settings, token: token}
}

// RegisterRoutes registers admin routes when a token is configured.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	if h.token == "" {
		slog.Info("Admin routes disabled (ADMIN_TOKEN not set)")
		return
	}
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/completion", h.GetCompletion)
		r.Put("/completion", h.UpdateCompletion)
	})
}

func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetCompletion returns the current completion settings with the key masked.
func (h *AdminHandler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.completion.Settings().Masked())
}

// UpdateCompletion replaces the fields present in the body.
func (h *AdminHandler) UpdateCompletion(w http.ResponseWriter, r *http.Request) {
	var u completion.SettingsUpdate
	if err := decodeJSON(r, &u); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.completion.Update(u)
	if err != nil {
		writeError(w, err, "Invalid completion settings")
		return
	}

	slog.Info("Completion settings updated", "model", s.Model, "max_output_tokens", s.MaxOutputTokens, "key_rotated", u.APIKey != nil)
	JSON(w, http.StatusOK, s.Masked())
}
