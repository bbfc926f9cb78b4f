package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	sessions := newFakeSessions()
	sessions.add("s1")
	sessions.add("s2")
	h := NewHealthHandler(NewHandler(sessions, nil), "avatar-relay", fakePinger{}, time.Second)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	got := decodeBody(t, w)
	if got["status"] != "healthy" || got["service"] != "avatar-relay" {
		t.Errorf("Unexpected body: %v", got)
	}
	if got["active_sessions"] != float64(2) {
		t.Errorf("Expected 2 active sessions, got %v", got["active_sessions"])
	}
	if got["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("Unexpected timestamp: %v", got["timestamp"])
	}
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(NewHandler(newFakeSessions(), nil), "avatar-relay", fakePinger{err: errors.New("disk gone")}, time.Second)
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
	if got := decodeBody(t, w); got["status"] != "degraded" {
		t.Errorf("Unexpected body: %v", got)
	}
}
