package api

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/ocagate/ocagate/internal/auth"
	"github.com/ocagate/ocagate/internal/config"
	"github.com/ocagate/ocagate/internal/executor"
	"github.com/ocagate/ocagate/internal/registry"
)

// newTestServer builds a full gateway over an upstream stub. When upstream is
// nil the token manager is left unauthenticated so auth failures can be
// exercised without network traffic.
func newTestServer(t *testing.T, upstream http.HandlerFunc) *Server {
	t.Helper()
	cfg := &config.Config{
		DefaultModel:           "oca/gpt-4.1",
		DefaultReasoningEffort: "medium",
		ModelMapping: map[string]config.ModelTarget{
			"claude-sonnet-4": {Target: "oca/gpt-4.1"},
		},
	}
	if upstream != nil {
		server := httptest.NewServer(upstream)
		t.Cleanup(server.Close)
		cfg.APIBaseURL = server.URL
	}

	authenticator := auth.NewAuthenticator(cfg)
	tokens := auth.NewTokenManager(authenticator, auth.NewFileTokenStore(t.TempDir()))
	if upstream != nil {
		if err := tokens.SetTokens(&auth.TokenResponse{AccessToken: "test-token", RefreshToken: "rt", ExpiresIn: 3600}); err != nil {
			t.Fatalf("SetTokens failed: %v", err)
		}
	}
	return NewServer(cfg, tokens, authenticator, registry.NewResolver(cfg), executor.NewClient(cfg, tokens))
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "status").String() != "ok" {
		t.Errorf("body = %s", rec.Body.String())
	}
	if gjson.Get(rec.Body.String(), "authenticated").Bool() {
		t.Error("authenticated = true for a fresh server")
	}
}

func TestClaudeMessagesUnauthenticated(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/v1/messages", `{"model":"claude-sonnet-4","max_tokens":100,"messages":[]}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error.type").String(); got != "authentication_error" {
		t.Errorf("error.type = %q", got)
	}
}

func TestClaudeMessagesStreaming(t *testing.T) {
	var upstreamBody string
	upstream := func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		upstreamBody = string(buf)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"Hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}

	s := newTestServer(t, upstream)
	rec := doRequest(s, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	// The upstream request was transcoded: mapped model, forced streaming.
	if got := gjson.Get(upstreamBody, "model").String(); got != "oca/gpt-4.1" {
		t.Errorf("upstream model = %q", got)
	}
	if !gjson.Get(upstreamBody, "stream").Bool() {
		t.Error("upstream request not streaming")
	}

	body := rec.Body.String()
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "message_delta", "message_stop"} {
		if !strings.Contains(body, "event: "+event) {
			t.Errorf("response missing %s event", event)
		}
	}
	if !strings.Contains(body, `"text":"Hello"`) {
		t.Errorf("response missing text delta: %s", body)
	}
	if !strings.Contains(body, `"stop_reason":"end_turn"`) {
		t.Errorf("response missing translated stop reason: %s", body)
	}
}

func TestClaudeMessagesAggregated(t *testing.T) {
	upstream := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"Hello"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"delta":{"content":" world"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}

	s := newTestServer(t, upstream)
	rec := doRequest(s, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if got := gjson.Get(body, "type").String(); got != "message" {
		t.Errorf("type = %q", got)
	}
	if got := gjson.Get(body, "content.0.text").String(); got != "Hello world" {
		t.Errorf("content text = %q", got)
	}
	if got := gjson.Get(body, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q", got)
	}
	if got := gjson.Get(body, "usage.output_tokens").Int(); got != 2 {
		t.Errorf("output_tokens = %d", got)
	}
}

func TestClaudeMessagesUpstreamErrorPassthrough(t *testing.T) {
	upstream := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}

	s := newTestServer(t, upstream)
	rec := doRequest(s, http.MethodPost, "/v1/messages", `{"model":"claude-sonnet-4","messages":[]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want upstream 429", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error.type").String(); got != "api_error" {
		t.Errorf("error.type = %q", got)
	}
}

func TestChatCompletionsPassthrough(t *testing.T) {
	upstream := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","choices":[]}`)
	}

	s := newTestServer(t, upstream)
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4","messages":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "object").String(); got != "chat.completion" {
		t.Errorf("object = %q", got)
	}
}

func TestChatCompletionsClampsMaxTokens(t *testing.T) {
	var upstreamBody string
	upstream := func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		upstreamBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[]}`)
	}

	s := newTestServer(t, upstream)
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4","max_tokens":50000,"messages":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(upstreamBody, "max_tokens").Int(); got != 16384 {
		t.Errorf("upstream max_tokens = %d, want 16384", got)
	}
}

func TestAuthStatus(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/auth/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "authenticated").Bool() {
		t.Error("authenticated = true for a fresh server")
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/health", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id response header missing")
	}
}
