package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseJobState(t *testing.T) {
	tests := map[string]JobState{
		"Pending":    JobPending,
		"running":    JobRunning,
		"Successful": JobSuccessful,
		"Faulted":    JobFaulted,
		"Stopped":    JobUnknown,
		"":           JobUnknown,
	}
	for in, want := range tests {
		if got := ParseJobState(in); got != want {
			t.Errorf("ParseJobState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("send task: %w", &ProviderError{
		Provider:   "avatar",
		Op:         "streaming.task",
		StatusCode: 400,
		Kind:       ErrSessionExpired,
		Cause:      cause,
	})

	if !errors.Is(err, ErrSessionExpired) {
		t.Error("expected error to match ErrSessionExpired")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to match its cause")
	}
	if errors.Is(err, ErrProviderError) {
		t.Error("did not expect ErrProviderError")
	}
	if got := StatusCodeOf(err); got != 400 {
		t.Errorf("StatusCodeOf = %d, want 400", got)
	}
}

func TestSessionConfigMerge(t *testing.T) {
	base := SessionConfig{Quality: "medium", AvatarID: "a", VoiceRate: 1.1, ActivityIdleTimeout: 240}
	got := base.Merge(SessionConfig{Quality: "high", ActivityIdleTimeout: 60})

	if got.Quality != "high" || got.AvatarID != "a" || got.VoiceRate != 1.1 || got.ActivityIdleTimeout != 60 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}
