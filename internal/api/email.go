package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	emailValidationTTL  = time.Hour
	maxEmailValidations = 10000
)

type emailValidation struct {
	email string
	at    time.Time
}

// EmailValidations remembers recently validated emails, keyed by a
// validation id. Entries expire after an hour and the store is capped.
type EmailValidations struct {
	mu     sync.RWMutex
	emails map[string]emailValidation
	ttl    time.Duration
	max    int
	now    func() time.Time
}

// NewEmailValidations creates an empty validation store.
func NewEmailValidations() *EmailValidations {
	return &EmailValidations{
		emails: make(map[string]emailValidation),
		ttl:    emailValidationTTL,
		max:    maxEmailValidations,
		now:    time.Now,
	}
}

// Store saves email and returns its validation id.
func (v *EmailValidations) Store(email string) string {
	id := uuid.NewString()
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	v.pruneLocked(now)
	v.emails[id] = emailValidation{email: email, at: now}
	return id
}

// Lookup returns the email stored under id if it has not expired.
func (v *EmailValidations) Lookup(id string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.emails[id]
	if !ok || v.now().Sub(e.at) > v.ttl {
		return "", false
	}
	return e.email, true
}

// Len returns the number of stored validations.
func (v *EmailValidations) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.emails)
}

// pruneLocked drops expired entries, then the oldest ones until there is
// room for one more.
func (v *EmailValidations) pruneLocked(now time.Time) {
	for id, e := range v.emails {
		if now.Sub(e.at) > v.ttl {
			delete(v.emails, id)
		}
	}
	for len(v.emails) >= v.max {
		var oldestID string
		var oldest time.Time
		for id, e := range v.emails {
			if oldestID == "" || e.at.Before(oldest) {
				oldestID, oldest = id, e.at
			}
		}
		delete(v.emails, oldestID)
	}
}

// EmailHandler handles standalone email validation.
type EmailHandler struct {
	validations *EmailValidations
}

// NewEmailHandler creates a new email handler.
func NewEmailHandler(validations *EmailValidations) *EmailHandler {
	return &EmailHandler{validations: validations}
}

// RegisterRoutes registers email routes.
func (h *EmailHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/email/validate", h.Validate)
}

type emailValidationResponse struct {
	IsValid bool   `json:"is_valid"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Validate checks the email format. An invalid address is still a 200 with
// is_valid false.
func (h *EmailHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)

	if !ValidEmail(email) {
		slog.Info("Email validation failed", "email", email)
		JSON(w, http.StatusOK, emailValidationResponse{
			IsValid: false,
			Email:   email,
			Message: "Formato de email inválido",
		})
		return
	}

	id := h.validations.Store(email)
	slog.Info("Email validated", "email", email, "validation_id", id)
	JSON(w, http.StatusOK, emailValidationResponse{
		IsValid: true,
		Email:   email,
		Message: "Email válido ✓ (ID: " + id + ")",
	})
}
