// Package executor issues requests to the upstream OCA chat service: bearer
// token injection, per-request request-id headers, and incremental SSE reads
// handed back to the caller line by line.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ocagate/ocagate/internal/auth"
	"github.com/ocagate/ocagate/internal/config"
	"github.com/ocagate/ocagate/internal/logging"
)

// DefaultAPIBaseURL is used when the configuration does not override the
// upstream endpoint.
const DefaultAPIBaseURL = "https://api.oca.ai/v1"

// streamScannerBuffer is the maximum size of one SSE line.
const streamScannerBuffer = 1_048_576 // 1MB

// StatusError is a non-2xx upstream response; status and body are passed
// through to the client where feasible.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// StreamChunk is one complete line read from the upstream stream, or a
// terminal read error.
type StreamChunk struct {
	Line []byte
	Err  error
}

// Client talks to the upstream chat service using tokens supplied by the
// token manager.
type Client struct {
	cfg        *config.Config
	tokens     *auth.TokenManager
	httpClient *http.Client
}

// NewClient creates an upstream client.
func NewClient(cfg *config.Config, tokens *auth.TokenManager) *Client {
	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{},
	}
}

func (c *Client) baseURL() string {
	// Read through the config's lock; a hot reload may rewrite the URL while
	// requests are in flight.
	if base := c.cfg.BaseURL(); base != "" {
		return base
	}
	return DefaultAPIBaseURL
}

// StreamChat POSTs a chat-completion request and returns a channel of raw
// upstream lines. The channel is closed after the upstream terminator; a
// synthetic [DONE] line is appended if the upstream closed without one so
// consumers always observe a terminal line. Cancelling the context aborts
// the upstream read.
func (c *Client) StreamChat(ctx context.Context, body []byte) (<-chan StreamChunk, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	url := c.baseURL() + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	c.applyHeaders(req, token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("close upstream response body error: %v", errClose)
		}
		logging.WithContext(ctx).Debugf("upstream error, status: %d, body: %s", resp.StatusCode, string(b))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer func() {
			if errClose := resp.Body.Close(); errClose != nil {
				log.Errorf("close upstream response body error: %v", errClose)
			}
		}()
		sawDone := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(nil, streamScannerBuffer)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			if bytes.Equal(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))), []byte("[DONE]")) {
				sawDone = true
			}
			select {
			case out <- StreamChunk{Line: line}:
			case <-ctx.Done():
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil {
			select {
			case out <- StreamChunk{Err: errScan}:
			case <-ctx.Done():
			}
			return
		}
		if !sawDone {
			select {
			case out <- StreamChunk{Line: []byte("data: [DONE]")}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Chat POSTs a non-streaming chat-completion request and returns the raw
// response body.
func (c *Client) Chat(ctx context.Context, body []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	url := c.baseURL() + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	c.applyHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// ListModels fetches the upstream model listing.
func (c *Client) ListModels(ctx context.Context) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	c.applyHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// applyHeaders sets the bearer token and a unique request id on an upstream
// request. The request id from the inbound context is reused when present so
// upstream entries correlate with gateway logs.
func (c *Client) applyHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	requestID := logging.GetRequestID(req.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-Id", requestID)
}
