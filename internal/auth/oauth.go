package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ocagate/ocagate/internal/config"
)

// OAuth defaults used when the configuration does not override them.
const (
	DefaultIssuer   = "https://auth.oca.ai"
	DefaultClientID = "oca-gateway"
	oauthScope      = "openid email offline_access"
)

// discoveryDocument is the subset of the OIDC discovery document the gateway
// needs: where to send the user and where to exchange codes and refresh tokens.
type discoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// TokenResponse is the token endpoint response for both the authorization
// code exchange and the refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Authenticator drives the PKCE authorization flow against the identity
// provider: building authorization URLs, consuming callbacks, and issuing
// refresh grants. Endpoints come from OIDC discovery and are cached after the
// first successful fetch.
type Authenticator struct {
	httpClient *http.Client
	issuer     string
	clientID   string
	sessions   *SessionStore

	discoveryMu sync.Mutex
	discovery   *discoveryDocument
}

// NewAuthenticator creates an authenticator from the gateway configuration.
func NewAuthenticator(cfg *config.Config) *Authenticator {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &Authenticator{
		httpClient: &http.Client{},
		issuer:     strings.TrimRight(issuer, "/"),
		clientID:   clientID,
		sessions:   NewSessionStore(),
	}
}

// discover fetches the OIDC discovery document, caching the result.
func (a *Authenticator) discover(ctx context.Context) (*discoveryDocument, error) {
	a.discoveryMu.Lock()
	defer a.discoveryMu.Unlock()
	if a.discovery != nil {
		return a.discovery, nil
	}

	wellKnown := a.issuer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("discovery failed with status %d: %s", resp.StatusCode, string(body))
	}

	var doc discoveryDocument
	if err = json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing endpoints")
	}
	a.discovery = &doc
	return a.discovery, nil
}

// CreateAuthorizationURL starts a login flow: it generates PKCE codes plus
// independent state and nonce values, records the pending session, and returns
// the authorization endpoint URL to send the user to.
func (a *Authenticator) CreateAuthorizationURL(ctx context.Context, redirectURI string) (string, error) {
	doc, err := a.discover(ctx)
	if err != nil {
		return "", err
	}

	pkce, err := GeneratePKCECodes()
	if err != nil {
		return "", err
	}
	state, err := randomURLSafe(32)
	if err != nil {
		return "", err
	}
	nonce, err := randomURLSafe(32)
	if err != nil {
		return "", err
	}

	a.sessions.Put(&Session{
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
		Nonce:        nonce,
		RedirectURI:  redirectURI,
		CreatedAt:    a.sessions.now(),
	})

	params := url.Values{
		"client_id":             {a.clientID},
		"response_type":         {"code"},
		"scope":                 {oauthScope},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"nonce":                 {nonce},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {"S256"},
	}
	return fmt.Sprintf("%s?%s", doc.AuthorizationEndpoint, params.Encode()), nil
}

// ConsumeCallback completes a login flow: it consumes the single-use session
// for the given state and exchanges the authorization code plus the stored
// verifier at the token endpoint. Fails with ErrInvalidOrExpiredState for an
// unknown state and ErrNoRefreshToken when the provider returns none.
func (a *Authenticator) ConsumeCallback(ctx context.Context, state, code string) (*TokenResponse, error) {
	session, err := a.sessions.Consume(state)
	if err != nil {
		return nil, err
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {a.clientID},
		"code":          {code},
		"redirect_uri":  {session.RedirectURI},
		"code_verifier": {session.CodeVerifier},
	}
	tokenResp, _, err := a.postTokenEndpoint(ctx, data)
	if err != nil {
		return nil, err
	}
	if tokenResp.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	return tokenResp, nil
}

// Refresh exchanges a refresh token for a new access token. A 400 response
// carrying invalid_grant or invalid_token means the session is dead and maps
// to ErrAuthExpired; anything else (network failure, provider 5xx) maps to
// ErrRefreshFailed so callers know stored state is still usable.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.clientID},
		"refresh_token": {refreshToken},
	}
	tokenResp, status, err := a.postTokenEndpoint(ctx, data)
	if err != nil {
		if status == http.StatusBadRequest {
			code := oauthErrorCode(err)
			if code == "invalid_grant" || code == "invalid_token" {
				return nil, ErrAuthExpired
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return tokenResp, nil
}

// tokenEndpointError carries the raw token endpoint failure so the refresh
// path can distinguish a rejected grant from a transient fault.
type tokenEndpointError struct {
	status int
	code   string
	body   string
}

func (e *tokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.status, e.body)
}

func oauthErrorCode(err error) string {
	if te, ok := err.(*tokenEndpointError); ok {
		return te.code
	}
	return ""
}

// postTokenEndpoint performs a form-encoded POST to the discovered token
// endpoint and parses the response.
func (a *Authenticator) postTokenEndpoint(ctx context.Context, data url.Values) (*TokenResponse, int, error) {
	doc, err := a.discover(ctx)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errBody)
		log.Debugf("token endpoint error: status=%d error=%s", resp.StatusCode, errBody.Error)
		return nil, resp.StatusCode, &tokenEndpointError{status: resp.StatusCode, code: errBody.Error, body: string(body)}
	}

	var tokenResp TokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tokenResp, resp.StatusCode, nil
}
