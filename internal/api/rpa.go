package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/compai/avatar-relay/internal/rpa"
	"github.com/compai/avatar-relay/internal/store"
	"github.com/go-chi/chi/v5"
)

// DefaultTriggerQuestion is used when a manual trigger names no question.
const DefaultTriggerQuestion = "¿Por qué me están cobrando un dashboard interactivo?"

// Workflows starts billing workflows and reports on them.
type Workflows interface {
	Trigger(ctx context.Context, req rpa.TriggerRequest) rpa.TriggerResult
	CheckStatus(ctx context.Context, jobID int64) (*rpa.JobStatus, error)
	History(ctx context.Context, sessionID string, limit int) ([]store.TriggerRecord, error)
}

// RPAHandler handles the manual workflow endpoints.
type RPAHandler struct {
	*Handler
	workflows Workflows
}

// NewRPAHandler creates a new RPA handler.
func NewRPAHandler(base *Handler, workflows Workflows) *RPAHandler {
	return &RPAHandler{Handler: base, workflows: workflows}
}

// RegisterRoutes registers RPA routes.
func (h *RPAHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/uipath", func(r chi.Router) {
		r.Post("/trigger", h.Trigger)
		r.Get("/job/{job_id}", h.JobStatus)
		r.Get("/jobs", h.Jobs)
	})
}

type triggerRequest struct {
	Question  string `json:"question"`
	Email     string `json:"email"`
	Case      string `json:"case"`
	SessionID string `json:"session_id"`
}

// Trigger starts the billing workflow. Workflow failures are reported in the
// 200 body with status "error", the same way the conversation channel sees them.
func (h *RPAHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		req.Question = DefaultTriggerQuestion
	}

	email := strings.TrimSpace(req.Email)
	if email == "" && req.SessionID != "" {
		if s, ok := h.sessions.Get(req.SessionID); ok {
			email = s.Email
		}
	}
	if email != "" && !ValidEmail(email) {
		Error(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	result := h.workflows.Trigger(r.Context(), rpa.TriggerRequest{
		Question:  req.Question,
		Email:     email,
		CaseText:  req.Case,
		SessionID: req.SessionID,
	})
	JSON(w, http.StatusOK, result)
}

// JobStatus returns the current state of a started job.
func (h *RPAHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil || jobID <= 0 {
		Error(w, http.StatusBadRequest, "invalid job id")
		return
	}

	status, err := h.workflows.CheckStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err, "Error checking job status")
		return
	}
	JSON(w, http.StatusOK, status)
}

// Jobs lists journaled triggers, newest first.
func (h *RPAHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.workflows.History(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, err, "Error listing jobs")
		return
	}
	if records == nil {
		records = []store.TriggerRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  records,
		"count": len(records),
	})
}
