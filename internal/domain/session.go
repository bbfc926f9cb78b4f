// Package domain contains core domain types for the avatar relay.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of an avatar session.
type SessionStatus string

const (
	// StatusActive marks a session that was created and started remotely.
	StatusActive SessionStatus = "active"
	// StatusExpired marks a session the provider rejected as expired or invalid.
	StatusExpired SessionStatus = "expired"
	// StatusClosed marks a session whose remote side was torn down.
	StatusClosed SessionStatus = "closed"
)

// Credentials are the media transport credentials issued by the avatar provider.
type Credentials struct {
	URL         string `json:"url"`
	AccessToken string `json:"access_token"`
}

// Empty reports whether either credential is missing.
func (c Credentials) Empty() bool {
	return c.URL == "" || c.AccessToken == ""
}

// Session is a streaming avatar session tracked by the relay.
type Session struct {
	ID          string        `json:"session_id"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Credentials Credentials   `json:"-"`
	Email       string        `json:"validated_email,omitempty"`
}

// IsActive returns true if the session can still receive tasks.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// HasEmail returns true if a validated email was attached to the session.
func (s *Session) HasEmail() bool {
	return s.Email != ""
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// SessionConfig holds the avatar parameters used to create a remote session.
type SessionConfig struct {
	Quality             string  `json:"quality"`
	AvatarID            string  `json:"avatar_id"`
	VoiceID             string  `json:"voice_id"`
	VoiceRate           float64 `json:"voice_rate"`
	VideoEncoding       string  `json:"video_encoding"`
	Version             string  `json:"version"`
	KnowledgeBaseID     string  `json:"knowledge_base_id"`
	DisableIdleTimeout  bool    `json:"disable_idle_timeout"`
	ActivityIdleTimeout int     `json:"activity_idle_timeout"`
}

// Merge returns a copy of c where every non-zero field of override wins.
func (c SessionConfig) Merge(override SessionConfig) SessionConfig {
	out := c
	if override.Quality != "" {
		out.Quality = override.Quality
	}
	if override.AvatarID != "" {
		out.AvatarID = override.AvatarID
	}
	if override.VoiceID != "" {
		out.VoiceID = override.VoiceID
	}
	if override.VoiceRate > 0 {
		out.VoiceRate = override.VoiceRate
	}
	if override.VideoEncoding != "" {
		out.VideoEncoding = override.VideoEncoding
	}
	if override.Version != "" {
		out.Version = override.Version
	}
	if override.KnowledgeBaseID != "" {
		out.KnowledgeBaseID = override.KnowledgeBaseID
	}
	if override.DisableIdleTimeout {
		out.DisableIdleTimeout = true
	}
	if override.ActivityIdleTimeout > 0 {
		out.ActivityIdleTimeout = override.ActivityIdleTimeout
	}
	return out
}
