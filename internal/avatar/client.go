// Package avatar is the HTTP client for the streaming avatar provider.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
)

const (
	providerName = "avatar"

	// DefaultBaseURL is the public streaming API root.
	DefaultBaseURL = "https://api.heygen.com/v1"

	maxErrorBody = 2048
)

// TaskType selects how the avatar handles a text task.
type TaskType string

const (
	// TaskChat lets the provider answer the text itself.
	TaskChat TaskType = "chat"
	// TaskRepeat makes the avatar speak the text verbatim.
	TaskRepeat TaskType = "repeat"
)

// ParseTaskType validates a client supplied task type. Empty means chat.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case "", TaskChat:
		return TaskChat, nil
	case TaskRepeat:
		return TaskRepeat, nil
	default:
		return "", fmt.Errorf("%w: unsupported task type %q", domain.ErrInvalidInput, s)
	}
}

// NewSession is the provider response to a session creation.
type NewSession struct {
	SessionID   string `json:"session_id"`
	URL         string `json:"url"`
	AccessToken string `json:"access_token"`
}

// TaskAck is the provider acknowledgment of a task.
type TaskAck struct {
	TaskID     string          `json:"task_id,omitempty"`
	DurationMS float64         `json:"duration_ms,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Client talks to the streaming avatar API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	lease      *TokenLease
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// NewClient creates a client authenticated with the static API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("avatar api key is required")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lease = NewTokenLease(c.CreateToken)
	return c, nil
}

// Lease exposes the token lease shared by all calls.
func (c *Client) Lease() *TokenLease {
	return c.lease
}

// CreateToken requests a new bearer token using the API key.
func (c *Client) CreateToken(ctx context.Context) (string, error) {
	var out struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	slog.Info("Requesting avatar session token")
	if err := c.do(ctx, "streaming.create_token", "", nil, &out); err != nil {
		return "", err
	}
	if out.Data.Token == "" {
		return "", &domain.ProviderError{
			Provider: providerName,
			Op:       "streaming.create_token",
			Body:     "empty token in response",
			Kind:     domain.ErrProviderError,
		}
	}
	return out.Data.Token, nil
}

// CreateSession asks the provider for a new streaming session.
func (c *Client) CreateSession(ctx context.Context, cfg domain.SessionConfig) (*NewSession, error) {
	voice := map[string]any{
		"voice_id": cfg.VoiceID,
		"rate":     cfg.VoiceRate,
	}
	payload := map[string]any{
		"quality":               cfg.Quality,
		"avatar_id":             cfg.AvatarID,
		"voice":                 voice,
		"version":               cfg.Version,
		"video_encoding":        cfg.VideoEncoding,
		"disable_idle_timeout":  cfg.DisableIdleTimeout,
		"activity_idle_timeout": cfg.ActivityIdleTimeout,
	}
	if cfg.KnowledgeBaseID != "" {
		payload["knowledge_base_id"] = cfg.KnowledgeBaseID
	}

	var out struct {
		Data *NewSession `json:"data"`
	}
	if err := c.authorized(ctx, "streaming.new", payload, &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.SessionID == "" {
		return nil, &domain.ProviderError{
			Provider: providerName,
			Op:       "streaming.new",
			Body:     "response has no session_id",
			Kind:     domain.ErrProviderError,
		}
	}
	return out.Data, nil
}

// StartSession starts a created session.
func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	return c.authorized(ctx, "streaming.start", map[string]string{"session_id": sessionID}, nil)
}

// SendTask sends text to the session. A 400 answer is reported as
// domain.ErrSessionExpired; every other failure as domain.ErrProviderError.
func (c *Client) SendTask(ctx context.Context, sessionID, text string, taskType TaskType) (*TaskAck, error) {
	payload := map[string]string{
		"session_id": sessionID,
		"text":       text,
		"task_type":  string(taskType),
	}
	var raw json.RawMessage
	err := c.authorized(ctx, "streaming.task", payload, &raw)
	if err != nil {
		var pe *domain.ProviderError
		// Only the task endpoint's own 400 means expiry; a failed token
		// refresh on the way there stays a provider error.
		if errors.As(err, &pe) && pe.Op == "streaming.task" && pe.StatusCode == http.StatusBadRequest {
			slog.Warn("Avatar session looks expired or invalid", "session_id", sessionID)
			pe.Kind = domain.ErrSessionExpired
		}
		return nil, err
	}

	ack := &TaskAck{Raw: raw}
	var body struct {
		Data struct {
			TaskID     string  `json:"task_id"`
			DurationMS float64 `json:"duration_ms"`
		} `json:"data"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
		ack.TaskID = body.Data.TaskID
		ack.DurationMS = body.Data.DurationMS
	}
	return ack, nil
}

// StopSession tears down the remote session.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	return c.authorized(ctx, "streaming.stop", map[string]string{"session_id": sessionID}, nil)
}

// authorized performs a call carrying the leased bearer token. A 401 or 403
// invalidates the lease so the next call fetches a fresh token.
func (c *Client) authorized(ctx context.Context, op string, payload, out any) error {
	token, err := c.lease.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain session token: %w", err)
	}
	err = c.do(ctx, op, token, payload, out)
	if status := domain.StatusCodeOf(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
		slog.Warn("Avatar token rejected, invalidating lease", "op", op, "status", status)
		c.lease.Invalidate(token)
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			pe.Kind = domain.ErrTokenRejected
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, op, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: providerName, Op: op, Kind: domain.ErrProviderError, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("Avatar provider call failed", "op", op, "status", resp.StatusCode, "body", string(data))
		return &domain.ProviderError{
			Provider:   providerName,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
			Kind:       domain.ErrProviderError,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.ProviderError{Provider: providerName, Op: op, Kind: domain.ErrProviderError, Cause: err}
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Provider: providerName, Op: op, Kind: domain.ErrProviderError, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
