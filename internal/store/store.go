// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"
)

// Trigger outcomes recorded in the journal.
const (
	TriggerSuccess = "success"
	TriggerError   = "error"
)

// TriggerRecord is one workflow trigger attempt.
type TriggerRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id,omitempty"`
	Question       string    `json:"question"`
	Email          string    `json:"email,omitempty"`
	CaseText       string    `json:"case_text,omitempty"`
	Status         string    `json:"status"`
	JobID          int64     `json:"job_id,omitempty"`
	JobKey         string    `json:"job_key,omitempty"`
	ReleaseName    string    `json:"release_name,omitempty"`
	InputArguments string    `json:"input_arguments,omitempty"`
	ErrorType      string    `json:"error_type,omitempty"`
	Message        string    `json:"message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Repository defines the interface for the trigger journal.
type Repository interface {
	// RecordTrigger appends a trigger attempt and sets its ID.
	RecordTrigger(ctx context.Context, rec *TriggerRecord) error

	// ListTriggers returns the newest attempts first. An empty sessionID
	// lists every session.
	ListTriggers(ctx context.Context, sessionID string, limit int) ([]TriggerRecord, error)

	// GetTriggerByJob returns the attempt that started jobID, or nil.
	GetTriggerByJob(ctx context.Context, jobID int64) (*TriggerRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
