// Package completion produces assistant replies through the OpenAI API.
//
// A reply is first requested from the Responses API. When that attempt fails
// in a recoverable way, or returns no text, Chat Completions is tried once.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/compai/avatar-relay/internal/domain"
)

const (
	// FallbackReply is returned when neither API produced text.
	FallbackReply = "Lo siento, no pude generar una respuesta en este momento."

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-5-nano"

	// DefaultSystemMessage is the assistant persona used when none is configured.
	DefaultSystemMessage = "Eres CompAI, asistente virtual especializado en guiar a los usuarios en consultas de facturación " +
		"y en verificar que lo facturado esté alineado con el contrato. Responde en español, de forma breve, " +
		"profesional y amigable."

	defaultMaxOutputTokens = 500
	fallbackMaxTokens      = 500
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = fmt.Errorf("%w: completion api key not configured", domain.ErrProviderError)

// Settings are the runtime-replaceable completion parameters.
type Settings struct {
	APIKey          string `json:"api_key"`
	BaseURL         string `json:"base_url,omitempty"`
	Model           string `json:"model"`
	SystemMessage   string `json:"system_message"`
	MaxOutputTokens int64  `json:"max_output_tokens"`
}

// Masked returns a copy safe to expose over the admin API.
func (s Settings) Masked() Settings {
	out := s
	switch {
	case s.APIKey == "":
	case len(s.APIKey) <= 8:
		out.APIKey = "****"
	default:
		out.APIKey = s.APIKey[:3] + "****" + s.APIKey[len(s.APIKey)-4:]
	}
	return out
}

// SettingsUpdate replaces the non-nil fields of the current settings.
type SettingsUpdate struct {
	APIKey          *string `json:"api_key,omitempty"`
	Model           *string `json:"model,omitempty"`
	SystemMessage   *string `json:"system_message,omitempty"`
	MaxOutputTokens *int64  `json:"max_output_tokens,omitempty"`
}

// Client is safe for concurrent use. Settings may be replaced while calls are
// in flight; each call uses the settings it started with.
type Client struct {
	mu         sync.RWMutex
	settings   Settings
	httpClient *http.Client
}

// New creates a completion client. Missing model, system message and token
// limit fall back to defaults. An empty API key is allowed; Complete then
// fails with ErrNotConfigured until Update sets one.
func New(s Settings, timeout time.Duration) *Client {
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.SystemMessage == "" {
		s.SystemMessage = DefaultSystemMessage
	}
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = defaultMaxOutputTokens
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return &Client{
		settings:   s,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Settings returns a copy of the current settings.
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Update applies u and returns the resulting settings.
func (c *Client) Update(u SettingsUpdate) (Settings, error) {
	if u.Model != nil && strings.TrimSpace(*u.Model) == "" {
		return Settings{}, fmt.Errorf("%w: model must not be empty", domain.ErrInvalidInput)
	}
	if u.SystemMessage != nil && strings.TrimSpace(*u.SystemMessage) == "" {
		return Settings{}, fmt.Errorf("%w: system message must not be empty", domain.ErrInvalidInput)
	}
	if u.MaxOutputTokens != nil && *u.MaxOutputTokens <= 0 {
		return Settings{}, fmt.Errorf("%w: max output tokens must be positive", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if u.APIKey != nil {
		c.settings.APIKey = strings.TrimSpace(*u.APIKey)
	}
	if u.Model != nil {
		c.settings.Model = strings.TrimSpace(*u.Model)
	}
	if u.SystemMessage != nil {
		c.settings.SystemMessage = *u.SystemMessage
	}
	if u.MaxOutputTokens != nil {
		c.settings.MaxOutputTokens = *u.MaxOutputTokens
	}
	slog.Info("Completion settings updated", "model", c.settings.Model, "api_key_set", c.settings.APIKey != "")
	return c.settings, nil
}

// Complete returns the assistant reply for text. It only fails when the key
// is missing, the context is done, or the provider rejected the credentials;
// every other problem ends in FallbackReply.
func (c *Client) Complete(ctx context.Context, text string) (string, error) {
	s := c.Settings()
	if s.APIKey == "" {
		return "", ErrNotConfigured
	}
	client := c.newOpenAI(s)

	reply, err := c.respond(ctx, client, s, text)
	if err == nil && reply != "" {
		return reply, nil
	}
	if err != nil {
		switch classify(ctx, err) {
		case failureFatal:
			slog.Error("Completion request failed", "api", "responses", "error", err)
			return "", providerError("responses", err)
		default:
			slog.Warn("Responses API failed, falling back to chat completions", "error", err)
		}
	} else {
		slog.Warn("Responses API returned no text, falling back to chat completions")
	}

	reply, err = c.chat(ctx, client, s, text)
	if err != nil {
		slog.Error("Chat completion fallback failed", "error", err)
		if classify(ctx, err) == failureFatal {
			return "", providerError("chat.completions", err)
		}
		return FallbackReply, nil
	}
	if reply == "" {
		slog.Error("Chat completion returned no text")
		return FallbackReply, nil
	}
	return reply, nil
}

func (c *Client) newOpenAI(s Settings) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(c.httpClient),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL+"/"))
	}
	return openai.NewClient(opts...)
}

func (c *Client) respond(ctx context.Context, client openai.Client, s Settings, text string) (string, error) {
	resp, err := client.Responses.New(ctx, responses.ResponseNewParams{
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(text)},
		Model:           shared.ResponsesModel(s.Model),
		Instructions:    openai.String(s.SystemMessage),
		MaxOutputTokens: openai.Int(s.MaxOutputTokens),
	})
	if err != nil {
		return "", err
	}
	return extractOutputText(resp.RawJSON()), nil
}

func (c *Client) chat(ctx context.Context, client openai.Client, s Settings, text string) (string, error) {
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(s.SystemMessage),
			openai.UserMessage(text),
		},
		Model:               shared.ChatModel(s.Model),
		MaxCompletionTokens: openai.Int(fallbackMaxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// extractOutputText reads the reply from a raw Responses API body. The
// aggregated output_text field wins; otherwise every output_text content
// part is concatenated.
func extractOutputText(raw string) string {
	var body struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return ""
	}
	if t := strings.TrimSpace(body.OutputText); t != "" {
		return t
	}
	var sb strings.Builder
	for _, item := range body.Output {
		if item.Type != "" && item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "" {
				sb.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureShape
	failureFatal
)

func classify(ctx context.Context, err error) failureKind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return failureFatal
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return failureTransient
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return failureFatal
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return failureShape
	default:
		return failureTransient
	}
}

func providerError(op string, err error) error {
	pe := &domain.ProviderError{Provider: "completion", Op: op, Kind: domain.ErrProviderError, Cause: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}
