package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/btouchard/beacon/internal/config"
)

// TokenClient builds the HTTP client used for token endpoint calls and
// nothing else. A configured CA bundle is added to the system roots so a
// self-signed OpenProject instance can be trusted without disabling
// verification; other endpoints keep the default client.
func TokenClient(policy config.TransportConfig, timeout time.Duration) (*http.Client, error) {
	if policy.CAFile == "" && policy.ServerName == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if policy.CAFile != "" {
		pem, err := os.ReadFile(policy.CAFile) //nolint:gosec // operator-provided CA bundle
		if err != nil {
			return nil, fmt.Errorf("reading token endpoint CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", policy.CAFile)
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		ServerName: policy.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
