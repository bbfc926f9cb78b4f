// Package rpa starts billing workflows on the orchestrator and keeps a
// journal of every attempt.
package rpa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
	"github.com/compai/avatar-relay/internal/metrics"
	"github.com/compai/avatar-relay/internal/orchestrator"
	"github.com/compai/avatar-relay/internal/store"
)

// Error types reported in a failed TriggerResult.
const (
	ErrorRequestFailed   = "request_failed"
	ErrorProcessNotFound = "process_not_found"
	ErrorGeneral         = "general_error"
)

// SuccessMessage is the message of a successful trigger.
const SuccessMessage = "Proceso UiPath iniciado exitosamente para consulta de facturación"

// Orchestrator is the subset of the orchestrator client the coordinator uses.
type Orchestrator interface {
	FindReleaseByName(ctx context.Context, name string) (*orchestrator.Release, error)
	StartJob(ctx context.Context, req orchestrator.StartJobRequest) (*orchestrator.StartedJob, error)
	GetJob(ctx context.Context, id int64) (*orchestrator.JobDetail, error)
}

// Journal records trigger attempts.
type Journal interface {
	RecordTrigger(ctx context.Context, rec *store.TriggerRecord) error
	ListTriggers(ctx context.Context, sessionID string, limit int) ([]store.TriggerRecord, error)
	GetTriggerByJob(ctx context.Context, jobID int64) (*store.TriggerRecord, error)
}

// TriggerRequest describes one workflow start.
type TriggerRequest struct {
	Question  string
	Email     string
	CaseText  string
	SessionID string
}

// TriggerResult is the outcome of Trigger. Status is store.TriggerSuccess or
// store.TriggerError.
type TriggerResult struct {
	Status         string `json:"status"`
	JobID          int64  `json:"job_id,omitempty"`
	JobKey         string `json:"job_key,omitempty"`
	ReleaseName    string `json:"release_name,omitempty"`
	InputArguments string `json:"input_arguments,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
	Message        string `json:"message"`
	Err            error  `json:"-"`
}

// OK reports whether the job was started.
func (r TriggerResult) OK() bool {
	return r.Status == store.TriggerSuccess
}

// JobStatus is the current state of a started job.
type JobStatus struct {
	JobID    int64                `json:"job_id"`
	State    domain.JobState      `json:"state"`
	RawState string               `json:"raw_state"`
	Info     string               `json:"info,omitempty"`
	Output   *string              `json:"output_arguments,omitempty"`
	Details  json.RawMessage      `json:"details,omitempty"`
	Trigger  *store.TriggerRecord `json:"trigger,omitempty"`
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	orch        Orchestrator
	processName string
	journal     Journal
	metrics     metrics.Recorder
}

// NewCoordinator creates a coordinator. orch may be nil when the orchestrator
// is not configured; every trigger then fails with ErrorGeneral. journal may
// be nil to disable journaling.
func NewCoordinator(orch Orchestrator, processName string, journal Journal, rec metrics.Recorder) *Coordinator {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Coordinator{orch: orch, processName: processName, journal: journal, metrics: rec}
}

// BuildInputArguments encodes the workflow inputs as a JSON object string.
// Empty inputs are omitted; with neither set the result is "{}".
func BuildInputArguments(email, caseText string) (string, error) {
	args := map[string]string{}
	if email != "" {
		args[domain.ArgEmail] = email
	}
	if caseText != "" {
		args[domain.ArgCase] = caseText
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", fmt.Errorf("encode input arguments: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Trigger starts the billing workflow. It never returns an error; failures
// are described by the result.
func (c *Coordinator) Trigger(ctx context.Context, req TriggerRequest) (result TriggerResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Workflow trigger panicked", "panic", r)
			result = failed(ErrorGeneral, fmt.Errorf("unexpected failure: %v", r))
		}
		c.metrics.RecordProviderCall("orchestrator", time.Since(start), result.Err)
		c.metrics.RecordTrigger(result.Status, result.ErrorType)
		c.record(ctx, req, result)
	}()

	slog.Info("Triggering billing workflow", "session_id", req.SessionID, "process", c.processName, "has_email", req.Email != "")

	if c.orch == nil {
		return failed(ErrorGeneral, errors.New("orchestrator is not configured"))
	}

	release, err := c.orch.FindReleaseByName(ctx, c.processName)
	if err != nil {
		return failed(errorType(err), err)
	}

	inputs, err := BuildInputArguments(req.Email, req.CaseText)
	if err != nil {
		return failed(ErrorGeneral, err)
	}

	job, err := c.orch.StartJob(ctx, orchestrator.StartJobRequest{ReleaseKey: release.Key, InputArguments: inputs})
	if err != nil {
		return failed(errorType(err), err)
	}

	slog.Info("Workflow job started", "session_id", req.SessionID, "job_id", job.ID, "job_key", job.Key)
	return TriggerResult{
		Status:         store.TriggerSuccess,
		JobID:          job.ID,
		JobKey:         job.Key,
		ReleaseName:    c.processName,
		InputArguments: inputs,
		Message:        SuccessMessage,
	}
}

// CheckStatus fetches the job from the orchestrator.
func (c *Coordinator) CheckStatus(ctx context.Context, jobID int64) (*JobStatus, error) {
	if c.orch == nil {
		return nil, &domain.ProviderError{Provider: "orchestrator", Op: "Jobs", Body: "not configured", Kind: domain.ErrProviderError}
	}
	job, err := c.orch.GetJob(ctx, jobID)
	if err != nil {
		if domain.StatusCodeOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: job %d", domain.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("check job %d: %w", jobID, err)
	}

	status := &JobStatus{
		JobID:    jobID,
		State:    domain.ParseJobState(job.State),
		RawState: job.State,
		Info:     job.Info,
		Output:   job.OutputArguments,
		Details:  job.Raw,
	}
	if c.journal != nil {
		rec, err := c.journal.GetTriggerByJob(ctx, jobID)
		if err != nil {
			slog.Warn("Failed to look up trigger for job", "job_id", jobID, "error", err)
		}
		status.Trigger = rec
	}
	return status, nil
}

// History lists journaled attempts, newest first.
func (c *Coordinator) History(ctx context.Context, sessionID string, limit int) ([]store.TriggerRecord, error) {
	if c.journal == nil {
		return []store.TriggerRecord{}, nil
	}
	return c.journal.ListTriggers(ctx, sessionID, limit)
}

func (c *Coordinator) record(ctx context.Context, req TriggerRequest, res TriggerResult) {
	if c.journal == nil {
		return
	}
	rec := &store.TriggerRecord{
		SessionID:      req.SessionID,
		Question:       req.Question,
		Email:          req.Email,
		CaseText:       req.CaseText,
		Status:         res.Status,
		JobID:          res.JobID,
		JobKey:         res.JobKey,
		ReleaseName:    res.ReleaseName,
		InputArguments: res.InputArguments,
		ErrorType:      res.ErrorType,
		Message:        res.Message,
	}
	if err := c.journal.RecordTrigger(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("Failed to journal workflow trigger", "session_id", req.SessionID, "error", err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrProcessNotFound):
		return ErrorProcessNotFound
	case errors.Is(err, domain.ErrProviderError):
		return ErrorRequestFailed
	default:
		return ErrorGeneral
	}
}

func failed(kind string, err error) TriggerResult {
	var msg string
	if kind == ErrorRequestFailed {
		msg = "Error de conexión con UiPath Orchestrator: " + err.Error()
	} else {
		msg = "Error ejecutando workflow UiPath: " + err.Error()
	}
	slog.Error("Workflow trigger failed", "error_type", kind, "error", err)
	return TriggerResult{Status: store.TriggerError, ErrorType: kind, Message: msg, Err: err}
}
