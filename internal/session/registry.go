// Package session provides the in-memory registry of avatar sessions.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
)

// Registry maps session IDs to session records. It is safe for concurrent use;
// reads return copies so callers never share a record with other flows.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// Add registers a session, replacing any record with the same ID.
// An active session must carry transport credentials.
func (r *Registry) Add(s domain.Session) error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrInvalidInput)
	}
	if s.Status == domain.StatusActive && s.Credentials.Empty() {
		return fmt.Errorf("%w: active session %s has no credentials", domain.ErrInvalidInput, s.ID)
	}

	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &s
	slog.Info("Session registered", "session_id", s.ID, "status", s.Status)
	return nil
}

// Get returns a copy of the session record.
func (r *Registry) Get(id string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

// Remove deletes the session record and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	slog.Info("Session removed", "session_id", id)
	return true
}

// SetEmail attaches a validated email to the session. Last write wins.
func (r *Registry) SetEmail(id, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Email = email
	s.UpdatedAt = r.now()
	return nil
}

// CompareAndSetStatus moves the session from one status to another.
// It returns false without changing anything when the current status is not from.
func (r *Registry) CompareAndSetStatus(id string, from, to domain.SessionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = r.now()
	slog.Info("Session status changed", "session_id", id, "from", from, "to", to)
	return true, nil
}

// MarkExpired flags an active session as expired and reports whether it did so.
func (r *Registry) MarkExpired(id string) bool {
	ok, err := r.CompareAndSetStatus(id, domain.StatusActive, domain.StatusExpired)
	return ok && err == nil
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns copies of all sessions, oldest first.
func (r *Registry) List() []domain.Session {
	r.mu.RLock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CountByStatus returns how many sessions are in each status.
func (r *Registry) CountByStatus() map[domain.SessionStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.SessionStatus]int, 3)
	for _, s := range r.sessions {
		counts[s.Status]++
	}
	return counts
}
