package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// Session holds the OAuth2 credentials of the signed-in account.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ClientID     string
	ClientSecret string
}

// IsValid reports whether the access token can still be used at now.
func IsValid(s *Session, now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// CanRefresh reports whether the session can outlive its access token.
func (s *Session) CanRefresh() bool {
	return s != nil && s.RefreshToken != ""
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// sameTokens reports whether s and o carry the same token pair.
func (s *Session) sameTokens(o *Session) bool {
	return s.AccessToken == o.AccessToken && s.RefreshToken == o.RefreshToken
}

func (s *Session) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// Credential store keys.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiresAt    = "expires_at"
	keyClientID     = "client_id"
	keyClientSecret = "client_secret"
)

var sessionKeys = []string{keyAccessToken, keyRefreshToken, keyExpiresAt, keyClientID, keyClientSecret}
