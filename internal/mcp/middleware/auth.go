package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/btouchard/beacon/internal/config"
)

// HashToken returns the hex SHA-256 digest stored in server.api_tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BearerAuth returns middleware that accepts Bearer tokens whose hash
// matches one of the configured API tokens.
func BearerAuth(tokens []config.APITokenEntry) func(http.Handler) http.Handler {
	hashes := make([][]byte, 0, len(tokens))
	names := make([]string, 0, len(tokens))
	for _, t := range tokens {
		h, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(t.TokenHash)))
		if err != nil || len(h) != sha256.Size {
			slog.Warn("ignoring malformed api token hash", "name", t.Name)
			continue
		}
		hashes = append(hashes, h)
		names = append(names, t.Name)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				challengeAuth(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				challengeAuth(w, "invalid Authorization header format")
				return
			}

			sum := sha256.Sum256([]byte(strings.TrimSpace(parts[1])))
			for i, h := range hashes {
				if subtle.ConstantTimeCompare(sum[:], h) == 1 {
					slog.Debug("api token accepted", "name", names[i])
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Debug("api token rejected", "remote", r.RemoteAddr)
			invalidToken(w, "invalid token")
		})
	}
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// invalidToken sends a 401 for requests with an unknown Bearer token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// SecurityHeaders sets conservative response headers on every route.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
