package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// expirySafetyMargin is how much remaining lifetime a cached access token
// must have to be handed out without a refresh.
const expirySafetyMargin = 300 * time.Second

// TokenManager owns the process-wide refresh/access token pair. Concurrent
// demand for a fresh access token is coalesced so that at most one refresh
// network call is in flight at any instant; every waiting caller receives the
// result of that single call.
type TokenManager struct {
	authenticator *Authenticator
	store         TokenStore
	group         singleflight.Group

	mu           sync.RWMutex
	refreshToken string
	accessToken  string
	expiry       time.Time
}

// NewTokenManager creates a token manager seeded from the persisted refresh
// token, if one exists.
func NewTokenManager(authenticator *Authenticator, store TokenStore) *TokenManager {
	m := &TokenManager{
		authenticator: authenticator,
		store:         store,
	}
	refreshToken, err := store.Load()
	if err != nil {
		log.Warnf("failed to load persisted token: %v", err)
	}
	m.refreshToken = refreshToken
	return m
}

// IsAuthenticated reports whether a refresh token is present.
func (m *TokenManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken != ""
}

// Token returns a valid access token, refreshing if the cached one expires
// within the safety margin. Fails with ErrNotAuthenticated when no refresh
// token exists, ErrAuthExpired when the provider rejects the refresh token
// (local state is cleared), and ErrRefreshFailed on transient faults (state
// preserved).
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	if m.refreshToken == "" {
		m.mu.RUnlock()
		return "", ErrNotAuthenticated
	}
	if m.accessToken != "" && time.Until(m.expiry) > expirySafetyMargin {
		token := m.accessToken
		m.mu.RUnlock()
		return token, nil
	}
	m.mu.RUnlock()

	// All concurrent callers join the one in-flight refresh; the group entry
	// is dropped when it settles so the next stale request starts a new one.
	// The refresh runs detached from the initiating request: its result serves
	// every coalesced caller, so one client disconnect must not abort the
	// shared network call.
	token, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh performs the refresh grant and publishes the result. A rotated
// refresh token is persisted before the new tokens become visible to callers,
// so a crash cannot forget a token we already hold.
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	current := m.refreshToken
	m.mu.RUnlock()
	if current == "" {
		return "", ErrNotAuthenticated
	}

	tokenResp, err := m.authenticator.Refresh(ctx, current)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			log.Warn("refresh token rejected by identity provider, clearing auth state")
			m.ClearAuth()
			return "", ErrAuthExpired
		}
		log.Errorf("token refresh failed: %v", err)
		return "", err
	}

	rotated := tokenResp.RefreshToken
	if rotated != "" && rotated != current {
		// Refresh tokens are frequently single-use; losing the rotation
		// breaks every future refresh.
		if errSave := m.store.Save(rotated); errSave != nil {
			log.Errorf("failed to persist rotated refresh token: %v", errSave)
		}
	}

	m.mu.Lock()
	if rotated != "" {
		m.refreshToken = rotated
	}
	m.accessToken = tokenResp.AccessToken
	m.expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	token := m.accessToken
	m.mu.Unlock()

	log.Debugf("access token refreshed, expires in %ds", tokenResp.ExpiresIn)
	return token, nil
}

// SetRefreshToken installs a refresh token obtained from a completed login
// flow, persisting it and discarding any cached access token.
func (m *TokenManager) SetRefreshToken(refreshToken string) error {
	if err := m.store.Save(refreshToken); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = refreshToken
	m.accessToken = ""
	m.expiry = time.Time{}
	return nil
}

// SetTokens installs the full token response from a login flow, caching the
// initial access token so the first request does not need a refresh.
func (m *TokenManager) SetTokens(tokenResp *TokenResponse) error {
	if tokenResp.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	if err := m.store.Save(tokenResp.RefreshToken); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = tokenResp.RefreshToken
	m.accessToken = tokenResp.AccessToken
	m.expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return nil
}

// ClearAuth drops all token state, both in memory and on disk.
func (m *TokenManager) ClearAuth() {
	m.mu.Lock()
	m.refreshToken = ""
	m.accessToken = ""
	m.expiry = time.Time{}
	m.mu.Unlock()
	if err := m.store.Clear(); err != nil {
		log.Warnf("failed to clear persisted token: %v", err)
	}
}
