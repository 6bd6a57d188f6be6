package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/btouchard/beacon/internal/credential"
)

// fallbackLifetime is assumed when the token endpoint omits expires_in.
const fallbackLifetime = time.Hour

// CredentialStore persists session fields.
// Defined at the consumer side per Go conventions.
type CredentialStore interface {
	GetString(key string) (string, error)
	SetString(key, value string) error
	GetTime(key string) (time.Time, error)
	SetTime(key string, value time.Time) error
	Delete(key string) error
}

// State is the session lifecycle state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// EndedFunc is called after a session is destroyed by the server rejecting
// its refresh token.
type EndedFunc func(reason string)

// Options configures a Manager.
type Options struct {
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RefreshThreshold is how close to expiry EnsureFresh starts refreshing.
	RefreshThreshold time.Duration

	// TokenClient is used for token endpoint calls only.
	TokenClient *http.Client

	Now     func() time.Time
	OnEnded EndedFunc
}

// Manager owns the OAuth2 session: it loads, refreshes, persists and
// destroys it. Concurrent refreshes collapse into one request.
type Manager struct {
	store       CredentialStore
	oauth       oauth2.Config
	tokenClient *http.Client
	threshold   time.Duration
	now         func() time.Time
	onEnded     EndedFunc

	mu         sync.Mutex
	session    *Session
	refreshing bool

	// writeMu orders session installs with their credential store writes.
	writeMu sync.Mutex

	group singleflight.Group
}

// NewManager creates a token Manager backed by store.
func NewManager(store CredentialStore, opts Options) *Manager {
	threshold := opts.RefreshThreshold
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		store: store,
		oauth: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokenClient: opts.TokenClient,
		threshold:   threshold,
		now:         now,
		onEnded:     opts.OnEnded,
	}
}

// SetOnEnded sets the callback for server-side session termination.
func (m *Manager) SetOnEnded(fn EndedFunc) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

// Load rehydrates the session from the credential store. It returns nil
// when a required field is missing or unreadable; it never fails.
func (m *Manager) Load() *Session {
	s, err := m.readSession()
	if err != nil {
		slog.Debug("no usable stored session", "error", err)
		return nil
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	slog.Info("session restored",
		"expires_at", s.ExpiresAt,
		"refreshable", s.CanRefresh())

	return s.clone()
}

func (m *Manager) readSession() (*Session, error) {
	access, err := m.store.GetString(keyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	expiresAt, err := m.store.GetTime(keyExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("expiry: %w", err)
	}
	clientID, err := m.store.GetString(keyClientID)
	if err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	refresh, err := optionalString(m.store, keyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	secret, err := optionalString(m.store, keyClientSecret)
	if err != nil {
		return nil, fmt.Errorf("client secret: %w", err)
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		ClientID:     clientID,
		ClientSecret: secret,
	}, nil
}

func optionalString(store CredentialStore, key string) (string, error) {
	v, err := store.GetString(key)
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Current returns a copy of the in-memory session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.session == nil:
		return StateUnauthenticated
	case m.refreshing:
		return StateRefreshing
	default:
		return StateAuthenticated
	}
}

// Token implements oauth2.TokenSource over the current session. Callers
// capture the token when a request starts; a refresh completing later does
// not affect requests already in flight.
func (m *Manager) Token() (*oauth2.Token, error) {
	s := m.Current()
	if s == nil {
		return nil, ErrNoSession
	}
	if !IsValid(s, m.now()) {
		return nil, ErrExpired
	}
	return s.token(), nil
}

// EnsureFresh refreshes the session when it expires within the refresh
// threshold. A transient failure while the current token is still valid
// keeps the current session.
func (m *Manager) EnsureFresh(ctx context.Context) (*Session, error) {
	current := m.Current()
	if current == nil {
		return nil, ErrNoSession
	}

	now := m.now()
	if current.ExpiresAt.Sub(now) >= m.threshold {
		return current, nil
	}

	slog.Debug("access token expiring, refreshing",
		"expires_in", current.ExpiresAt.Sub(now).Round(time.Second))

	next, err := m.Refresh(ctx)
	if err == nil {
		return next, nil
	}

	if errors.Is(err, ErrTransient) && IsValid(current, now) {
		slog.Warn("token refresh failed, keeping current token until next check",
			"expires_at", current.ExpiresAt,
			"error", err)
		return current, nil
	}

	return nil, err
}

// Refresh exchanges the refresh token for a new access token. Callers that
// arrive while a refresh is in flight share its result. The in-flight call
// is detached from the caller's cancellation so joiners always get an answer.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	v, err, shared := m.group.Do("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		slog.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Session).clone(), nil
}

func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	current := m.session.clone()
	if current != nil {
		m.refreshing = true
	}
	m.mu.Unlock()

	if current == nil {
		return nil, &AuthError{Kind: KindUnauthorized, Err: ErrNoSession}
	}

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	if !current.CanRefresh() {
		if newer, ended := m.endSession(current, "no refresh token"); !ended {
			return newer, nil
		}
		return nil, &AuthError{Kind: KindUnauthorized, Err: errors.New("session has no refresh token")}
	}

	cfg := m.oauth
	cfg.ClientID = current.ClientID
	cfg.ClientSecret = current.ClientSecret

	tok, err := cfg.TokenSource(m.tokenContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		authErr := classify(err)
		if authErr.Kind == KindUnauthorized {
			slog.Warn("refresh token rejected, ending session",
				"status", authErr.StatusCode)
			if newer, ended := m.endSession(current, "refresh token rejected"); !ended {
				return newer, nil
			}
		} else {
			slog.Warn("token refresh failed",
				"status", authErr.StatusCode,
				"error", err)
		}
		return nil, authErr
	}

	next := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.expiryFor(tok),
		ClientID:     current.ClientID,
		ClientSecret: current.ClientSecret,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	switch {
	case m.session == nil:
		// Logged out while the request was in flight.
		m.mu.Unlock()
		return nil, &AuthError{Kind: KindUnauthorized, Err: ErrNoSession}
	case !m.session.sameTokens(current):
		// A new login replaced the session this refresh started from.
		newer := m.session.clone()
		m.mu.Unlock()
		slog.Info("discarding refresh result, session replaced during refresh")
		return newer, nil
	}
	m.session = next
	m.mu.Unlock()

	if err := m.persist(next); err != nil {
		slog.Warn("refreshed session not persisted", "error", err)
	}

	slog.Info("access token refreshed", "expires_at", next.ExpiresAt)

	return next.clone(), nil
}

// AuthCodeURL returns the authorization URL for a PKCE (S256) login.
func (m *Manager) AuthCodeURL(state, verifier string) string {
	return m.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for a new session and persists it.
func (m *Manager) Exchange(ctx context.Context, code, verifier string) (*Session, error) {
	tok, err := m.oauth.Exchange(m.tokenContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classify(err)
	}

	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.expiryFor(tok),
		ClientID:     m.oauth.ClientID,
		ClientSecret: m.oauth.ClientSecret,
	}

	m.writeMu.Lock()
	if err := m.persist(s); err != nil {
		m.writeMu.Unlock()
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	m.writeMu.Unlock()

	slog.Info("session created", "expires_at", s.ExpiresAt, "refreshable", s.CanRefresh())

	return s.clone(), nil
}

// Logout clears the session from memory and the credential store.
// It is safe to call any number of times.
func (m *Manager) Logout() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.clearSession()
}

// clearSession drops the session. Caller holds m.writeMu.
func (m *Manager) clearSession() {
	m.mu.Lock()
	had := m.session != nil
	m.session = nil
	m.mu.Unlock()

	for _, k := range sessionKeys {
		if err := m.store.Delete(k); err != nil {
			slog.Warn("failed to delete credential", "key", k, "error", err)
		}
	}

	if had {
		slog.Info("session cleared")
	}
}

// endSession clears the session and fires the ended callback, but only
// while the session still carries from's tokens. Otherwise it reports false
// and returns the session that replaced it.
func (m *Manager) endSession(from *Session, reason string) (*Session, bool) {
	m.writeMu.Lock()
	m.mu.Lock()
	if m.session != nil && !m.session.sameTokens(from) {
		newer := m.session.clone()
		m.mu.Unlock()
		m.writeMu.Unlock()
		slog.Info("session replaced during refresh, not ending it", "reason", reason)
		return newer, false
	}
	fn := m.onEnded
	m.mu.Unlock()

	m.clearSession()
	m.writeMu.Unlock()

	if fn != nil {
		fn(reason)
	}
	return nil, true
}

func (m *Manager) persist(s *Session) error {
	errs := []error{
		m.store.SetString(keyAccessToken, s.AccessToken),
		m.store.SetTime(keyExpiresAt, s.ExpiresAt),
		m.store.SetString(keyClientID, s.ClientID),
	}
	if s.RefreshToken != "" {
		errs = append(errs, m.store.SetString(keyRefreshToken, s.RefreshToken))
	} else {
		errs = append(errs, m.store.Delete(keyRefreshToken))
	}
	if s.ClientSecret != "" {
		errs = append(errs, m.store.SetString(keyClientSecret, s.ClientSecret))
	} else {
		errs = append(errs, m.store.Delete(keyClientSecret))
	}
	return errors.Join(errs...)
}

func (m *Manager) tokenContext(ctx context.Context) context.Context {
	if m.tokenClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.tokenClient)
}

// expiryFor computes expiresAt = now + expires_in with the manager clock.
func (m *Manager) expiryFor(tok *oauth2.Token) time.Time {
	if secs, ok := expiresIn(tok); ok {
		return m.now().Add(time.Duration(secs) * time.Second)
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return m.now().Add(fallbackLifetime)
}

func expiresIn(tok *oauth2.Token) (int64, bool) {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

// classify maps token endpoint failures: 401/403 end the session, anything
// else (other statuses, network errors, timeouts, bad bodies) is transient.
func classify(err error) *AuthError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return &AuthError{Kind: KindUnauthorized, StatusCode: status, Err: err}
		}
		return &AuthError{Kind: KindTransient, StatusCode: status, Err: err}
	}
	return &AuthError{Kind: KindTransient, Err: err}
}
