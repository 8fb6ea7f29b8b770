package certcheck

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tlsServer(t *testing.T) (*httptest.Server, *tls.Config) {
	t.Helper()
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	trusted := srv.Client().Transport.(*http.Transport).TLSClientConfig.Clone()
	return srv, trusted
}

type recorder struct {
	mu    sync.Mutex
	calls int
	ok    bool
	at    time.Time
}

func (r *recorder) ObserveCert(notAfter time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.ok = ok
	r.at = notAfter
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestCheck_PlainHTTPSkipped(t *testing.T) {
	assert.Nil(t, Check(context.Background(), "http://example.com/health", nil, time.Now()))
	assert.Nil(t, Check(context.Background(), "::not a url", nil, time.Now()))
}

func TestCheck_States(t *testing.T) {
	srv, trusted := tlsServer(t)
	notAfter := srv.Certificate().NotAfter

	cases := []struct {
		name  string
		now   time.Time
		state string
	}{
		{"far from expiry", notAfter.Add(-365 * 24 * time.Hour), StateValid},
		{"inside renewal window", notAfter.Add(-10 * 24 * time.Hour), StateExpiring},
		{"past expiry", notAfter.Add(time.Hour), StateExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := Check(context.Background(), srv.URL, trusted, tc.now)
			require.NotNil(t, st)
			assert.Equal(t, tc.state, st.State)
			assert.Equal(t, srv.URL, st.Endpoint)
			assert.True(t, st.NotAfter.Equal(notAfter.UTC()))
			assert.Empty(t, st.Error)
		})
	}
}

func TestCheck_DaysLeft(t *testing.T) {
	srv, trusted := tlsServer(t)
	notAfter := srv.Certificate().NotAfter

	st := Check(context.Background(), srv.URL, trusted, notAfter.Add(-(45*24*time.Hour + time.Hour)))
	require.NotNil(t, st)
	assert.Equal(t, 45, st.DaysLeft)
	assert.Equal(t, StateValid, st.State)
}

func TestCheck_UntrustedIsUnreachable(t *testing.T) {
	srv, _ := tlsServer(t)

	st := Check(context.Background(), srv.URL, &tls.Config{}, time.Now())
	require.NotNil(t, st)
	assert.Equal(t, StateUnreachable, st.State)
	assert.NotEmpty(t, st.Error)
}

func TestCheck_ExpiredTrustedChain(t *testing.T) {
	srv, trusted := tlsServer(t)
	later := srv.Certificate().NotAfter.Add(24 * time.Hour)

	// The handshake itself runs as if the certificate had already expired.
	cfg := trusted.Clone()
	cfg.Time = func() time.Time { return later }

	st := Check(context.Background(), srv.URL, cfg, later)
	require.NotNil(t, st)
	assert.Equal(t, StateExpired, st.State)
	assert.Empty(t, st.Error)
	assert.Equal(t, -1, st.DaysLeft)
}

func TestCheck_SkipVerifyInspectsUntrusted(t *testing.T) {
	srv, _ := tlsServer(t)

	st := Check(context.Background(), srv.URL, &tls.Config{InsecureSkipVerify: true}, time.Now())
	require.NotNil(t, st)
	assert.Equal(t, StateValid, st.State)
	assert.Empty(t, st.Error)
}

func TestCheck_ConnectionRefused(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	st := Check(context.Background(), url, nil, time.Now())
	require.NotNil(t, st)
	assert.Equal(t, StateUnreachable, st.State)
}

func TestMonitor_CheckOnceStoresResult(t *testing.T) {
	srv, trusted := tlsServer(t)
	rec := &recorder{}
	m := NewMonitor(MonitorOptions{Endpoint: srv.URL, Interval: time.Hour, TLS: trusted, Recorder: rec})

	_, ok := m.Last()
	assert.False(t, ok)

	st := m.CheckOnce(context.Background())
	require.NotNil(t, st)

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, StateValid, last.State)
	assert.Equal(t, 1, rec.count())
	assert.True(t, rec.ok)
	assert.True(t, rec.at.Equal(srv.Certificate().NotAfter))
}

func TestMonitor_RunRechecksEveryInterval(t *testing.T) {
	srv, trusted := tlsServer(t)
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	m := NewMonitor(MonitorOptions{
		Endpoint: srv.URL,
		Interval: time.Hour,
		TLS:      trusted,
		Clock:    clock,
		Recorder: rec,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, rec.count(), "first check runs before the ticker starts")

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_RunSkips(t *testing.T) {
	rec := &recorder{}

	m := NewMonitor(MonitorOptions{Endpoint: "http://example.com", Interval: time.Hour, Recorder: rec})
	assert.NoError(t, m.Run(context.Background()))

	m = NewMonitor(MonitorOptions{Endpoint: "https://example.com", Interval: 0, Recorder: rec})
	assert.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 0, rec.count())
}
