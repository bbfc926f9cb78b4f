// Package api provides HTTP handlers for the avatar relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/compai/avatar-relay/internal/avatar"
	"github.com/compai/avatar-relay/internal/domain"
	"github.com/compai/avatar-relay/internal/lifecycle"
)

// maxJSONBody caps request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SessionManager is the session surface the handlers drive.
type SessionManager interface {
	CreateSession(ctx context.Context, override domain.SessionConfig) (domain.Session, error)
	SendTask(ctx context.Context, id, text string, taskType avatar.TaskType) (*avatar.TaskAck, error)
	CloseSession(ctx context.Context, id string) (lifecycle.CloseOutcome, error)
	SetEmail(id, email string) error
	Get(id string) (domain.Session, bool)
	ActiveCount() int
}

// ChannelCloser closes the live conversation channels of a session.
type ChannelCloser interface {
	CloseSession(sessionID string)
}

// Handler provides common handler utilities.
type Handler struct {
	sessions SessionManager
	channels ChannelCloser
}

// NewHandler creates a new Handler with common dependencies. channels may be nil.
func NewHandler(sessions SessionManager, channels ChannelCloser) *Handler {
	return &Handler{sessions: sessions, channels: channels}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrProviderError),
		errors.Is(err, domain.ErrProcessNotFound),
		errors.Is(err, domain.ErrTokenRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status from statusFor. Well known errors get
// a fixed message; the rest are prefixed with what.
func writeError(w http.ResponseWriter, err error, what string) {
	status := statusFor(err)
	var msg string
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		msg = "Session not found"
	case errors.Is(err, domain.ErrJobNotFound):
		msg = "Job not found"
	case errors.Is(err, domain.ErrSessionExpired):
		msg = "Session expired or invalid"
	default:
		msg = what + ": " + err.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.Error(what, "error", err, "status", status)
	}
	Error(w, status, msg)
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ValidEmail reports whether email has the local@domain.tld shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
