package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/compai/avatar-relay/internal/avatar"
	"github.com/compai/avatar-relay/internal/domain"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles avatar session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Post("/{session_id}/task", h.SendTask)
		r.Post("/{session_id}/email", h.SetEmail)
		r.Delete("/{session_id}", h.Close)
	})
}

type sessionResponse struct {
	SessionID   string               `json:"session_id"`
	Status      domain.SessionStatus `json:"status"`
	URL         string               `json:"url"`
	AccessToken string               `json:"access_token"`
}

// Create creates and starts an avatar session. The optional JSON body
// overrides the configured session defaults.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var override domain.SessionConfig
	if err := decodeJSON(r, &override); err != nil {
		Error(w, http.StatusBadRequest, "invalid session config")
		return
	}

	s, err := h.sessions.CreateSession(r.Context(), override)
	if err != nil {
		writeError(w, err, "Error creating session")
		return
	}

	slog.Info("Session created", "session_id", s.ID)
	JSON(w, http.StatusOK, sessionResponse{
		SessionID:   s.ID,
		Status:      s.Status,
		URL:         s.Credentials.URL,
		AccessToken: s.Credentials.AccessToken,
	})
}

type taskRequest struct {
	Text     string `json:"text"`
	TaskType string `json:"task_type"`
}

// SendTask relays a text task to the avatar.
func (h *SessionHandler) SendTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	taskType, err := avatar.ParseTaskType(req.TaskType)
	if err != nil {
		writeError(w, err, "Invalid task")
		return
	}

	ack, err := h.sessions.SendTask(r.Context(), id, req.Text, taskType)
	if err != nil {
		writeError(w, err, "Error sending task")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "task_sent",
		"response": ack,
	})
}

// Close stops the session and removes it. Closing an unknown session is not an error.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	outcome, err := h.sessions.CloseSession(r.Context(), id)
	if err != nil {
		writeError(w, err, "Error closing session")
		return
	}
	if h.channels != nil {
		h.channels.CloseSession(id)
	}

	slog.Info("Session close requested", "session_id", id, "outcome", outcome)
	JSON(w, http.StatusOK, map[string]string{
		"status":     string(outcome),
		"session_id": id,
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

// SetEmail validates an email and attaches it to the session.
func (h *SessionHandler) SetEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if _, ok := h.sessions.Get(id); !ok {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}

	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if !ValidEmail(email) {
		Error(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	if err := h.sessions.SetEmail(id, email); err != nil {
		writeError(w, err, "Error saving email")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"session_id": id,
		"email":      email,
		"message":    "Email asociado exitosamente a la sesión",
	})
}
