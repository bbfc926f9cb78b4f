package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
)

// DefaultSweepInterval is used when SweepConfig.Interval is zero.
const DefaultSweepInterval = 5 * time.Minute

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	// MaxAge evicts sessions older than this. Zero disables the sweeper.
	MaxAge time.Duration
	// Interval is the time between sweeps. Sessions that stopped being
	// active more than one interval ago are evicted too.
	Interval time.Duration
}

// StartSweeper runs a background goroutine that periodically evicts stale
// sessions until ctx is done.
func StartSweeper(ctx context.Context, mgr *Manager, cfg SweepConfig) {
	if cfg.MaxAge <= 0 {
		slog.Info("Session sweeper disabled")
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "max_age", cfg.MaxAge)

		for {
			select {
			case now := <-ticker.C:
				mgr.Sweep(ctx, cfg, now)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep evicts sessions that are too old or have been inactive for longer
// than one interval, and returns how many were evicted.
func (m *Manager) Sweep(ctx context.Context, cfg SweepConfig, now time.Time) int {
	var stale []domain.Session
	for _, s := range m.registry.List() {
		switch {
		case cfg.MaxAge > 0 && s.Age(now) > cfg.MaxAge:
			stale = append(stale, s)
		case !s.IsActive() && now.Sub(s.UpdatedAt) > cfg.Interval:
			stale = append(stale, s)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	slog.Info("Session sweeper found stale sessions", "count", len(stale))
	evicted := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			slog.Debug("Session sweeper interrupted", "error", ctx.Err())
			break
		}
		slog.Info("Session sweeper evicting session", "session_id", s.ID, "status", s.Status, "age", s.Age(now))
		m.Evict(ctx, s.ID)
		evicted++
	}
	return evicted
}
