// Package lifecycle creates, drives and tears down avatar sessions, keeping
// the registry consistent with the provider.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/compai/avatar-relay/internal/avatar"
	"github.com/compai/avatar-relay/internal/domain"
	"github.com/compai/avatar-relay/internal/metrics"
	"github.com/compai/avatar-relay/internal/session"
)

// AvatarGateway is the provider surface the manager drives.
type AvatarGateway interface {
	CreateSession(ctx context.Context, cfg domain.SessionConfig) (*avatar.NewSession, error)
	StartSession(ctx context.Context, sessionID string) error
	SendTask(ctx context.Context, sessionID, text string, taskType avatar.TaskType) (*avatar.TaskAck, error)
	StopSession(ctx context.Context, sessionID string) error
}

// CloseOutcome reports what CloseSession did.
type CloseOutcome string

const (
	Closed        CloseOutcome = "closed"
	AlreadyClosed CloseOutcome = "already_closed"
)

// Manager is safe for concurrent use.
type Manager struct {
	gateway  AvatarGateway
	registry *session.Registry
	defaults domain.SessionConfig
	metrics  metrics.Recorder

	// Per-session locks serialize teardown so concurrent closes stay idempotent.
	locks sync.Map
}

// NewManager creates a manager. defaults is merged under every per-request
// session config.
func NewManager(gw AvatarGateway, reg *session.Registry, defaults domain.SessionConfig, rec metrics.Recorder) *Manager {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Manager{gateway: gw, registry: reg, defaults: defaults, metrics: rec}
}

// Registry returns the session registry.
func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (domain.Session, bool) {
	return m.registry.Get(id)
}

// SetEmail attaches a validated email to the session.
func (m *Manager) SetEmail(id, email string) error {
	if err := m.registry.SetEmail(id, email); err != nil {
		return err
	}
	slog.Info("Email attached to session", "session_id", id)
	return nil
}

// ActiveCount returns the number of tracked sessions.
func (m *Manager) ActiveCount() int {
	return m.registry.Len()
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// CreateSession creates and starts a remote session and registers it.
// Nothing is registered unless both remote calls succeed.
func (m *Manager) CreateSession(ctx context.Context, override domain.SessionConfig) (domain.Session, error) {
	cfg := m.defaults.Merge(override)

	start := time.Now()
	created, err := m.gateway.CreateSession(ctx, cfg)
	m.metrics.RecordProviderCall("avatar", time.Since(start), err)
	if err != nil {
		slog.Error("Failed to create avatar session", "error", err)
		return domain.Session{}, fmt.Errorf("%w: create session: %w", domain.ErrProviderUnavailable, err)
	}

	start = time.Now()
	err = m.gateway.StartSession(ctx, created.SessionID)
	m.metrics.RecordProviderCall("avatar", time.Since(start), err)
	if err != nil {
		slog.Error("Failed to start avatar session", "session_id", created.SessionID, "error", err)
		if stopErr := m.gateway.StopSession(context.WithoutCancel(ctx), created.SessionID); stopErr != nil {
			slog.Warn("Best-effort stop of unstarted session failed", "session_id", created.SessionID, "error", stopErr)
		}
		return domain.Session{}, fmt.Errorf("%w: start session: %w", domain.ErrProviderUnavailable, err)
	}

	s := domain.Session{
		ID:          created.SessionID,
		Status:      domain.StatusActive,
		Credentials: domain.Credentials{URL: created.URL, AccessToken: created.AccessToken},
	}
	if err := m.registry.Add(s); err != nil {
		slog.Error("Provider returned an unusable session", "session_id", created.SessionID, "error", err)
		_ = m.gateway.StopSession(context.WithoutCancel(ctx), created.SessionID)
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(m.registry.Len())
	s, _ = m.registry.Get(created.SessionID)
	return s, nil
}

// SendTask relays text to the avatar. A provider 400 marks the session
// expired and returns domain.ErrSessionExpired.
func (m *Manager) SendTask(ctx context.Context, id, text string, taskType avatar.TaskType) (*avatar.TaskAck, error) {
	if _, ok := m.registry.Get(id); !ok {
		return nil, domain.ErrSessionNotFound
	}

	start := time.Now()
	ack, err := m.gateway.SendTask(ctx, id, text, taskType)
	m.metrics.RecordProviderCall("avatar", time.Since(start), err)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			m.registry.MarkExpired(id)
			return nil, err
		}
		return nil, fmt.Errorf("send task: %w", err)
	}

	slog.Info("Task sent to avatar", "session_id", id, "task_type", taskType, "task_id", ack.TaskID)
	return ack, nil
}

// CloseSession stops the remote session and removes the record. Closing an
// unknown session succeeds with AlreadyClosed. If the remote stop fails the
// record stays in place.
func (m *Manager) CloseSession(ctx context.Context, id string) (CloseOutcome, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, ok := m.registry.Get(id)
	if !ok {
		return AlreadyClosed, nil
	}

	if s.Status != domain.StatusClosed {
		start := time.Now()
		err := m.gateway.StopSession(ctx, id)
		m.metrics.RecordProviderCall("avatar", time.Since(start), err)
		if err != nil {
			slog.Error("Failed to stop avatar session", "session_id", id, "error", err)
			return "", fmt.Errorf("stop session: %w", err)
		}
	}

	m.registry.Remove(id)
	m.locks.Delete(id)
	m.metrics.RecordSessionClosed("explicit")
	m.metrics.SetActiveSessions(m.registry.Len())
	return Closed, nil
}

// TeardownRemote stops the remote session and marks the record closed,
// keeping it registered.
func (m *Manager) TeardownRemote(ctx context.Context, id string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, ok := m.registry.Get(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Status == domain.StatusClosed {
		return nil
	}

	start := time.Now()
	err := m.gateway.StopSession(ctx, id)
	m.metrics.RecordProviderCall("avatar", time.Since(start), err)
	if err != nil {
		slog.Error("Failed to tear down avatar session", "session_id", id, "error", err)
		return fmt.Errorf("stop session: %w", err)
	}

	if _, err := m.registry.CompareAndSetStatus(id, s.Status, domain.StatusClosed); err != nil {
		return err
	}
	m.metrics.RecordSessionClosed("channel")
	return nil
}

// Evict removes the session after a best-effort remote stop.
func (m *Manager) Evict(ctx context.Context, id string) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, ok := m.registry.Get(id)
	if !ok {
		return
	}
	if s.Status != domain.StatusClosed {
		if err := m.gateway.StopSession(ctx, id); err != nil {
			slog.Warn("Sweeper failed to stop avatar session", "session_id", id, "error", err)
		}
	}
	m.registry.Remove(id)
	m.locks.Delete(id)
	m.metrics.RecordSessionClosed("swept")
	m.metrics.SetActiveSessions(m.registry.Len())
}
