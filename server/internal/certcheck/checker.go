package certcheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"
)

const (
	dialTimeout    = 10 * time.Second
	expiringWithin = 30 * 24 * time.Hour
)

// Certificate states.
const (
	StateValid       = "valid"
	StateExpiring    = "expiring"
	StateExpired     = "expired"
	StateUnreachable = "unreachable"
)

// Status describes the leaf certificate presented by an endpoint.
type Status struct {
	Endpoint  string    `json:"endpoint"`
	Issuer    string    `json:"issuer,omitempty"`
	NotAfter  time.Time `json:"not_after,omitempty"`
	DaysLeft  int       `json:"days_left"`
	State     string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Check dials the TLS endpoint and returns a Status describing the leaf
// certificate, evaluated at now.
//
// Returns nil for non-HTTPS endpoints: there is no TLS certificate to inspect.
// The dial is bounded by a 10-second timeout on top of ctx.
//
// The chain is verified against tlsCfg's roots at a time inside the leaf's
// validity window, so an expired but trusted certificate reports expired
// while an untrusted one reports unreachable.
func Check(ctx context.Context, endpoint string, tlsCfg *tls.Config, now time.Time) *Status {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	st := &Status{Endpoint: endpoint, CheckedAt: now.UTC()}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	cfg := &tls.Config{}
	if tlsCfg != nil {
		cfg = tlsCfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = u.Hostname()
	}
	verify := !cfg.InsecureSkipVerify
	cfg.InsecureSkipVerify = true

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		st.State = StateUnreachable
		st.Error = err.Error()
		return st
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		st.State = StateUnreachable
		st.Error = "no peer certificate"
		return st
	}

	leaf := peerCerts[0]
	if verify {
		if err := verifyChain(peerCerts, cfg); err != nil {
			st.State = StateUnreachable
			st.Error = err.Error()
			return st
		}
	}

	left := leaf.NotAfter.Sub(now)

	st.NotAfter = leaf.NotAfter.UTC()
	st.Issuer = leaf.Issuer.CommonName
	st.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		st.State = StateExpired
	case left <= expiringWithin:
		st.State = StateExpiring
	default:
		st.State = StateValid
	}
	return st
}

// verifyChain checks that certs chain to cfg.RootCAs (system roots when nil)
// and that the leaf matches cfg.ServerName. Expiry is not judged here.
func verifyChain(certs []*x509.Certificate, cfg *tls.Config) error {
	leaf := certs[0]
	inter := x509.NewCertPool()
	for _, c := range certs[1:] {
		inter.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       cfg.ServerName,
		Roots:         cfg.RootCAs,
		Intermediates: inter,
		CurrentTime:   leaf.NotBefore.Add(time.Second),
	})
	if err != nil {
		return fmt.Errorf("certcheck: verify chain: %w", err)
	}
	return nil
}
