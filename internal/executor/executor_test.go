package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ocagate/ocagate/internal/auth"
	"github.com/ocagate/ocagate/internal/config"
)

// newTestClient wires a client against an upstream stub, with a token manager
// pre-seeded so no refresh traffic ever leaves the test.
func newTestClient(t *testing.T, upstream http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	cfg := &config.Config{APIBaseURL: server.URL}
	tokens := auth.NewTokenManager(auth.NewAuthenticator(cfg), auth.NewFileTokenStore(t.TempDir()))
	if err := tokens.SetTokens(&auth.TokenResponse{AccessToken: "test-token", RefreshToken: "rt", ExpiresIn: 3600}); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}
	return NewClient(cfg, tokens)
}

func collectChunks(t *testing.T, ch <-chan StreamChunk) []string {
	t.Helper()
	var lines []string
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		lines = append(lines, string(chunk.Line))
	}
	return lines
}

func TestStreamChatDeliversLines(t *testing.T) {
	var gotAuth, gotAccept string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\"}\n\ndata: {\"id\":\"2\"}\n\ndata: [DONE]\n\n")
	})

	ch, err := client.StreamChat(context.Background(), []byte(`{"model":"oca/gpt-4.1"}`))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	lines := collectChunks(t, ch)

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept = %q", gotAccept)
	}

	var data []string
	for _, line := range lines {
		if line != "" {
			data = append(data, line)
		}
	}
	want := []string{`data: {"id":"1"}`, `data: {"id":"2"}`, "data: [DONE]"}
	if len(data) != len(want) {
		t.Fatalf("lines = %q, want %q", data, want)
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, data[i], want[i])
		}
	}
}

func TestStreamChatSynthesizesDone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\"}\n\n")
	})

	ch, err := client.StreamChat(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	lines := collectChunks(t, ch)

	if len(lines) == 0 {
		t.Fatal("no lines delivered")
	}
	if last := lines[len(lines)-1]; last != "data: [DONE]" {
		t.Errorf("last line = %q, want synthesized terminator", last)
	}
}

func TestStreamChatUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	})

	_, err := client.StreamChat(context.Background(), []byte(`{}`))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Errorf("Code = %d, want 429", statusErr.Code)
	}
	if statusErr.Body != `{"error":{"message":"rate limited"}}` {
		t.Errorf("Body = %q", statusErr.Body)
	}
}

func TestStreamChatRequiresToken(t *testing.T) {
	cfg := &config.Config{APIBaseURL: "http://127.0.0.1:0"}
	tokens := auth.NewTokenManager(auth.NewAuthenticator(cfg), auth.NewFileTokenStore(t.TempDir()))
	client := NewClient(cfg, tokens)

	if _, err := client.StreamChat(context.Background(), []byte(`{}`)); !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestBaseURLConcurrentWithReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("api-base-url: https://api.example.com/v1\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	tokens := auth.NewTokenManager(auth.NewAuthenticator(cfg), auth.NewFileTokenStore(t.TempDir()))
	client := NewClient(cfg, tokens)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = cfg.Reload()
		}
	}()
	for i := 0; i < 200; i++ {
		if got := client.baseURL(); got != "https://api.example.com/v1" {
			t.Errorf("baseURL() = %q", got)
		}
	}
	<-done
}

func TestChat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[]}`)
	})

	body, err := client.Chat(context.Background(), []byte(`{"model":"oca/gpt-4.1"}`))
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if string(body) != `{"id":"chatcmpl-1","choices":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"oca/gpt-4.1"}]}`)
	})

	body, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if string(body) != `{"object":"list","data":[{"id":"oca/gpt-4.1"}]}` {
		t.Errorf("body = %s", body)
	}
}
