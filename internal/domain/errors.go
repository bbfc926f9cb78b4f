package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means a remote session could not be created or started.
	ErrProviderUnavailable = errors.New("avatar provider unavailable")
	// ErrSessionExpired means the avatar provider rejected a task for the session.
	ErrSessionExpired = errors.New("session expired or invalid")
	// ErrSessionNotFound means the session is not in the registry.
	ErrSessionNotFound = errors.New("session not found")
	// ErrJobNotFound means the orchestrator has no job with the requested id.
	ErrJobNotFound = errors.New("job not found")
	// ErrProcessNotFound means the workflow release does not exist on the orchestrator.
	ErrProcessNotFound = errors.New("process not found")
	// ErrProviderError is a generic remote failure.
	ErrProviderError = errors.New("provider error")
	// ErrInvalidInput is returned for input rejected before any remote call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTokenRejected means the provider refused the cached auth token.
	ErrTokenRejected = errors.New("auth token rejected")
)

// ProviderError describes a failed call to an external provider.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Kind       error
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the error kind and the underlying cause to errors.Is/As.
func (e *ProviderError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// StatusCodeOf returns the HTTP status carried by a ProviderError in err's chain, or 0.
func StatusCodeOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
