package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/compai/avatar-relay/internal/transcription"
	"github.com/go-chi/chi/v5"
)

// maxAudioUpload caps the multipart upload accepted by Transcribe.
const maxAudioUpload = 25 << 20

// Transcriber turns audio into text.
type Transcriber interface {
	Configured() bool
	Transcribe(ctx context.Context, audio io.Reader, contentType string) (*transcription.Transcript, error)
}

// MediaHandler handles audio endpoints.
type MediaHandler struct {
	stt Transcriber
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(stt Transcriber) *MediaHandler {
	return &MediaHandler{stt: stt}
}

// RegisterRoutes registers media routes.
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/stt/transcribe", h.Transcribe)
}

// Transcribe reads the audio_file part of a multipart upload and returns its transcript.
func (h *MediaHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.stt.Configured() {
		Error(w, http.StatusInternalServerError, "Deepgram API key not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return
		}
		Error(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	transcript, err := h.stt.Transcribe(r.Context(), file, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, transcription.ErrNoSpeech) {
			Error(w, http.StatusBadRequest, "No speech detected in audio")
			return
		}
		writeError(w, err, "Error transcribing audio")
		return
	}

	JSON(w, http.StatusOK, transcript)
}
