package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/btouchard/beacon/internal/config"
)

func newTestHandler() http.Handler {
	tokens := []config.APITokenEntry{
		{Name: "laptop", TokenHash: HashToken("s3cret")},
		{Name: "broken", TokenHash: "not-hex"},
		{Name: "upper", TokenHash: strings.ToUpper(HashToken("other"))},
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return SecurityHeaders(BearerAuth(tokens)(ok))
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHashToken_IsHexSHA256(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b", HashToken("secret"))
}

func TestBearerAuth_WhenValidToken_PassesThrough(t *testing.T) {
	t.Parallel()
	h := newTestHandler()

	assert.Equal(t, http.StatusNoContent, serve(h, "Bearer s3cret").Code)
	assert.Equal(t, http.StatusNoContent, serve(h, "bearer other").Code, "scheme and stored hash are case-insensitive")
}

func TestBearerAuth_WhenMissingHeader_Challenges(t *testing.T) {
	t.Parallel()
	rec := serve(newTestHandler(), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="beacon"`)
}

func TestBearerAuth_WhenWrongScheme_Challenges(t *testing.T) {
	t.Parallel()
	rec := serve(newTestHandler(), "Basic czNjcmV0")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid Authorization header format")
}

func TestBearerAuth_WhenUnknownToken_Rejects(t *testing.T) {
	t.Parallel()
	rec := serve(newTestHandler(), "Bearer guess")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestBearerAuth_WhenNoTokensConfigured_RejectsEverything(t *testing.T) {
	t.Parallel()
	h := BearerAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	assert.Equal(t, http.StatusUnauthorized, serve(h, "Bearer anything").Code)
}

func TestSecurityHeaders_AreSet(t *testing.T) {
	t.Parallel()
	rec := serve(newTestHandler(), "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
