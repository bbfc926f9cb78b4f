package domain

import "strings"

// JobState is the last state reported by the workflow orchestrator for a job.
type JobState string

const (
	JobPending    JobState = "Pending"
	JobRunning    JobState = "Running"
	JobSuccessful JobState = "Successful"
	JobFaulted    JobState = "Faulted"
	JobUnknown    JobState = "Unknown"
)

// ParseJobState maps an orchestrator state string onto the known states.
// Anything unrecognised is JobUnknown.
func ParseJobState(s string) JobState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return JobPending
	case "running":
		return JobRunning
	case "successful":
		return JobSuccessful
	case "faulted":
		return JobFaulted
	default:
		return JobUnknown
	}
}

// Terminal returns true once the job will not change state anymore.
func (s JobState) Terminal() bool {
	return s == JobSuccessful || s == JobFaulted
}

// Input argument keys expected by the billing workflow.
const (
	ArgEmail = "InCorreo"
	ArgCase  = "InCaso"
)

// Job is a workflow run started on the orchestrator.
type Job struct {
	ID          int64             `json:"job_id"`
	Key         string            `json:"job_key"`
	ReleaseKey  string            `json:"release_key"`
	ReleaseName string            `json:"release_name"`
	Priority    string            `json:"priority"`
	Arguments   map[string]string `json:"arguments,omitempty"`
	State       JobState          `json:"state"`
}
