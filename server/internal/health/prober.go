// Package health probes the upstream status endpoint once per publish cycle.
//
// Probe failures are never returned as errors. They only decide the is_up
// flag of the snapshot being built.
package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const defaultProbeTimeout = 10 * time.Second

// Prober reports whether the upstream is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Options configures an HTTPProber.
type Options struct {
	URL     string
	Timeout time.Duration

	// Strict marks a 5xx response as down. By default any completed exchange
	// is up and the status code is ignored.
	Strict bool

	InsecureSkipVerify bool
	CAFile             string
}

// HTTPProber issues a plain GET against a fixed URL.
type HTTPProber struct {
	url    string
	strict bool
	client *http.Client
}

// NewHTTPProber builds the HTTP client once and reuses it for every probe.
func NewHTTPProber(opts Options) (*HTTPProber, error) {
	client, err := buildHTTPClient(opts)
	if err != nil {
		return nil, fmt.Errorf("health: build http client: %w", err)
	}
	return &HTTPProber{url: opts.URL, strict: opts.Strict, client: client}, nil
}

// newHTTPProberWithClient is used by tests to inject an httptest client.
func newHTTPProberWithClient(url string, strict bool, client *http.Client) *HTTPProber {
	return &HTTPProber{url: url, strict: strict, client: client}
}

// Probe returns true iff the GET completes without a transport-level error
// (and, in strict mode, without a 5xx status).
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		slog.Warn("health: build request failed", "url", p.url, "err", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("health: probe failed", "url", p.url, "err", err)
		return false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused by the next cycle.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if p.strict && resp.StatusCode >= http.StatusInternalServerError {
		slog.Debug("health: upstream returned server error", "url", p.url, "status", resp.StatusCode)
		return false
	}
	return true
}

// buildHTTPClient constructs an http.Client with the probe's TLS settings and
// timeout.
func buildHTTPClient(opts Options) (*http.Client, error) {
	tlsCfg, err := TLSConfig(opts.InsecureSkipVerify, opts.CAFile)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsCfg,
		},
		Timeout: timeout,
	}, nil
}

// TLSConfig returns the client TLS settings used to reach the upstream.
// caFile, when set, replaces the system roots.
func TLSConfig(insecureSkipVerify bool, caFile string) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // user-configured
	}

	if caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", caFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
