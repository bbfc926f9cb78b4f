//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/compai/avatar-relay/internal/avatar"
	"github.com/compai/avatar-relay/internal/completion"
	"github.com/compai/avatar-relay/internal/domain"
	"github.com/compai/avatar-relay/internal/lifecycle"
	"github.com/go-chi/chi/v5"
)

type fakeSessions struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	createErr error
	taskErr   error
	closeErr  error
	created   []domain.SessionConfig
	tasks     []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]domain.Session)}
}

func (f *fakeSessions) add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = domain.Session{
		ID:          id,
		Status:      domain.StatusActive,
		CreatedAt:   time.Now(),
		Credentials: domain.Credentials{URL: "wss://media.test", AccessToken: "tok-" + id},
	}
}

func (f *fakeSessions) CreateSession(_ context.Context, override domain.SessionConfig) (domain.Session, error) {
	f.mu.Lock()
	f.created = append(f.created, override)
	err := f.createErr
	id := fmt.Sprintf("sess-%d", len(f.created))
	f.mu.Unlock()
	if err != nil {
		return domain.Session{}, err
	}
	f.add(id)
	s, _ := f.Get(id)
	return s, nil
}

func (f *fakeSessions) SendTask(_ context.Context, id, text string, taskType avatar.TaskType) (*avatar.TaskAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	f.tasks = append(f.tasks, string(taskType)+":"+text)
	return &avatar.TaskAck{TaskID: "task-1", DurationMS: 1200}, nil
}

func (f *fakeSessions) CloseSession(_ context.Context, id string) (lifecycle.CloseOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return "", f.closeErr
	}
	if _, ok := f.sessions[id]; !ok {
		return lifecycle.AlreadyClosed, nil
	}
	delete(f.sessions, id)
	return lifecycle.Closed, nil
}

func (f *fakeSessions) SetEmail(id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Email = email
	f.sessions[id] = s
	return nil
}

func (f *fakeSessions) Get(id string) (domain.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	return s, ok
}

func (f *fakeSessions) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeChannels struct {
	mu     sync.Mutex
	closed []string
}

func (f *fakeChannels) CloseSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return got
}

func serve(r chi.Router, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "nope")

	if w.Code != http.StatusTeapot {
		t.Fatalf("Expected 418, got %d", w.Code)
	}
	if got := decodeBody(t, w); got["error"] != "nope" {
		t.Errorf("Expected error=nope, got %v", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"session not found", domain.ErrSessionNotFound, http.StatusNotFound},
		{"job not found", fmt.Errorf("get job: %w", domain.ErrJobNotFound), http.StatusNotFound},
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
		{"expired", &domain.ProviderError{Provider: "avatar", Op: "task", StatusCode: 400, Kind: domain.ErrSessionExpired}, http.StatusBadRequest},
		{"unavailable", fmt.Errorf("%w: create", domain.ErrProviderUnavailable), http.StatusBadGateway},
		{"provider error", &domain.ProviderError{Provider: "transcription", Op: "listen", StatusCode: 500, Kind: domain.ErrProviderError}, http.StatusBadGateway},
		{"completion not configured", completion.ErrNotConfigured, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	valid := []string{"ana@example.com", "a.b+c@sub.example.co"}
	invalid := []string{"", "ana", "ana@example", "ana @example.com", "@example.com", "ana@@example.com"}

	for _, e := range valid {
		if !ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = false, want true", e)
		}
	}
	for _, e := range invalid {
		if ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = true, want false", e)
		}
	}
}
