// Package transcription turns uploaded audio into text using Deepgram's
// prerecorded /v1/listen endpoint.
package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
)

const (
	// DefaultBaseURL is the public Deepgram API root.
	DefaultBaseURL = "https://api.deepgram.com"
	// DefaultModel is the transcription model.
	DefaultModel = "nova-2"

	language = "es"
)

// SupportedAudioTypes lists the accepted upload content types.
var SupportedAudioTypes = []string{"audio/wav", "audio/mpeg", "audio/mp4", "audio/webm", "audio/ogg"}

// ErrNoSpeech is returned when the provider found nothing to transcribe.
var ErrNoSpeech = fmt.Errorf("%w: No speech detected in audio", domain.ErrInvalidInput)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("deepgram api key not configured")

// IsSupportedAudioType reports whether contentType, ignoring parameters such
// as codecs, is one of SupportedAudioTypes.
func IsSupportedAudioType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, t := range SupportedAudioTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// Transcript is the best alternative of the first channel.
type Transcript struct {
	Text       string  `json:"transcription"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

// Client calls the Deepgram API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a transcription client. An empty key yields a client whose
// calls fail with ErrNotConfigured.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends audio as the raw request body. Unsupported content types
// are rejected before any remote call.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, contentType string) (*Transcript, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if !IsSupportedAudioType(contentType) {
		return nil, fmt.Errorf("%w: unsupported audio format %q, allowed: %s",
			domain.ErrInvalidInput, contentType, strings.Join(SupportedAudioTypes, ", "))
	}

	q := url.Values{}
	q.Set("model", c.model)
	q.Set("language", language)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("diarize", "false")
	reqURL := c.baseURL + "/v1/listen?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, audio)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "transcription", Op: "listen", Kind: domain.ErrProviderError, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &domain.ProviderError{
			Provider:   "transcription",
			Op:         "listen",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Kind:       domain.ErrProviderError,
		}
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, &domain.ProviderError{Provider: "transcription", Op: "listen", Kind: domain.ErrProviderError, Cause: fmt.Errorf("parse response: %w", err)}
	}

	out := &Transcript{Duration: lr.Metadata.Duration}
	if len(lr.Results.Channels) > 0 && len(lr.Results.Channels[0].Alternatives) > 0 {
		alt := lr.Results.Channels[0].Alternatives[0]
		out.Text = alt.Transcript
		out.Confidence = alt.Confidence
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, ErrNoSpeech
	}

	slog.Info("Audio transcribed", "confidence", out.Confidence, "duration", out.Duration, "chars", len(out.Text))
	return out, nil
}
