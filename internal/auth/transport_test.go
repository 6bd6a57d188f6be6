package auth

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/beacon/internal/config"
)

func newTLSServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, block, 0600))

	return srv, caFile
}

func TestTokenClient_TrustsConfiguredCA(t *testing.T) {
	t.Parallel()
	srv, caFile := newTLSServer(t)

	client, err := TokenClient(config.TransportConfig{CAFile: caFile}, 5*time.Second)
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTokenClient_DefaultPolicyStillVerifies(t *testing.T) {
	t.Parallel()
	srv, _ := newTLSServer(t)

	client, err := TokenClient(config.TransportConfig{}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)

	_, err = client.Get(srv.URL)
	assert.Error(t, err, "self-signed certificate must not be trusted without a CA file")
}

func TestTokenClient_DoesNotChangeDefaultTransport(t *testing.T) {
	t.Parallel()
	srv, caFile := newTLSServer(t)

	_, err := TokenClient(config.TransportConfig{CAFile: caFile}, time.Second)
	require.NoError(t, err)

	_, err = http.Get(srv.URL)
	assert.Error(t, err)
}

func TestTokenClient_MissingCAFile(t *testing.T) {
	t.Parallel()

	_, err := TokenClient(config.TransportConfig{CAFile: filepath.Join(t.TempDir(), "nope.pem")}, time.Second)
	assert.Error(t, err)
}

func TestTokenClient_CAFileWithoutCertificates(t *testing.T) {
	t.Parallel()
	caFile := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(caFile, []byte("not a certificate"), 0600))

	_, err := TokenClient(config.TransportConfig{CAFile: caFile}, time.Second)
	assert.ErrorContains(t, err, "no certificates")
}
