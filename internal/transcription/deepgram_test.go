package transcription

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/compai/avatar-relay/internal/domain"
)

func TestIsSupportedAudioType(t *testing.T) {
	require.True(t, IsSupportedAudioType("audio/webm"))
	require.True(t, IsSupportedAudioType("audio/webm;codecs=opus"))
	require.True(t, IsSupportedAudioType("audio/wav"))
	require.False(t, IsSupportedAudioType("audio/flac"))
	require.False(t, IsSupportedAudioType("video/mp4"))
	require.False(t, IsSupportedAudioType(""))
}

func TestTranscribe(t *testing.T) {
	var gotQuery, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/listen", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"metadata":{"duration":2.5},"results":{"channels":[{"alternatives":[{"transcript":"hola mundo","confidence":0.93}]}]}}`))
	}))
	defer srv.Close()

	c := NewClient("dg-key", srv.URL, "", time.Second)
	tr, err := c.Transcribe(t.Context(), strings.NewReader("RIFF"), "audio/wav")
	require.NoError(t, err)
	require.Equal(t, "hola mundo", tr.Text)
	require.InDelta(t, 0.93, tr.Confidence, 0.0001)
	require.InDelta(t, 2.5, tr.Duration, 0.0001)

	require.Equal(t, "Token dg-key", gotAuth)
	require.Equal(t, "audio/wav", gotType)
	require.Equal(t, "RIFF", gotBody)
	require.Contains(t, gotQuery, "model=nova-2")
	require.Contains(t, gotQuery, "language=es")
	require.Contains(t, gotQuery, "smart_format=true")
	require.Contains(t, gotQuery, "diarize=false")
}

func TestTranscribeNoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"metadata":{"duration":1},"results":{"channels":[{"alternatives":[{"transcript":"  ","confidence":0}]}]}}`))
	}))
	defer srv.Close()

	c := NewClient("dg-key", srv.URL, "", time.Second)
	_, err := c.Transcribe(t.Context(), strings.NewReader("x"), "audio/ogg")
	require.ErrorIs(t, err, ErrNoSpeech)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTranscribeRejectsTypeBeforeCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient("dg-key", srv.URL, "", time.Second)
	_, err := c.Transcribe(t.Context(), strings.NewReader("x"), "audio/flac")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.False(t, called)
}

func TestTranscribeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"err_msg":"no credits"}`))
	}))
	defer srv.Close()

	c := NewClient("dg-key", srv.URL, "", time.Second)
	_, err := c.Transcribe(t.Context(), strings.NewReader("x"), "audio/mpeg")
	require.ErrorIs(t, err, domain.ErrProviderError)
	require.Equal(t, http.StatusPaymentRequired, domain.StatusCodeOf(err))
}

func TestTranscribeNotConfigured(t *testing.T) {
	c := NewClient("", "", "", time.Second)
	_, err := c.Transcribe(t.Context(), strings.NewReader("x"), "audio/mpeg")
	require.ErrorIs(t, err, ErrNotConfigured)
}
