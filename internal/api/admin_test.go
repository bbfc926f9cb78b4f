package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/compai/avatar-relay/internal/completion"
	"github.com/go-chi/chi/v5"
)

func newAdminRouter(c *completion.Client, token string) chi.Router {
	r := chi.NewRouter()
	NewAdminHandler(c, token).RegisterRoutes(r)
	return r
}

func adminRequest(method, body, token string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/api/admin/completion", nil)
	} else {
		req = httptest.NewRequest(method, "/api/admin/completion", strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	r := newAdminRouter(completion.New(completion.Settings{APIKey: "sk-test-1234567890"}, time.Second), "")

	w := serve(r, adminRequest(http.MethodGet, "", "anything"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 when admin is disabled, got %d", w.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	r := newAdminRouter(completion.New(completion.Settings{APIKey: "sk-test-1234567890"}, time.Second), "secret")

	if w := serve(r, adminRequest(http.MethodGet, "", "")); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := serve(r, adminRequest(http.MethodGet, "", "wrong")); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong token, got %d", w.Code)
	}
}

func TestAdminGetCompletionMasksKey(t *testing.T) {
	r := newAdminRouter(completion.New(completion.Settings{APIKey: "sk-test-1234567890"}, time.Second), "secret")

	w := serve(r, adminRequest(http.MethodGet, "", "secret"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	got := decodeBody(t, w)
	if got["api_key"] != "sk-****7890" {
		t.Errorf("Expected masked key, got %v", got["api_key"])
	}
	if got["model"] != completion.DefaultModel {
		t.Errorf("Expected default model, got %v", got["model"])
	}
}

func TestAdminUpdateCompletion(t *testing.T) {
	c := completion.New(completion.Settings{APIKey: "sk-test-1234567890"}, time.Second)
	r := newAdminRouter(c, "secret")

	w := serve(r, adminRequest(http.MethodPut, `{"model":"gpt-4o-mini","api_key":"sk-rotated-abcdefgh"}`, "secret"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w); got["model"] != "gpt-4o-mini" || got["api_key"] != "sk-****efgh" {
		t.Errorf("Unexpected body: %v", got)
	}
	if s := c.Settings(); s.APIKey != "sk-rotated-abcdefgh" || s.Model != "gpt-4o-mini" {
		t.Errorf("Expected settings replaced, got %+v", s)
	}
}

func TestAdminUpdateCompletionInvalid(t *testing.T) {
	c := completion.New(completion.Settings{}, time.Second)
	r := newAdminRouter(c, "secret")

	w := serve(r, adminRequest(http.MethodPut, `{"max_output_tokens":0}`, "secret"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if s := c.Settings(); s.MaxOutputTokens <= 0 {
		t.Errorf("Expected token limit untouched, got %d", s.MaxOutputTokens)
	}
}
