package certcheck

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Recorder receives every completed check.
type Recorder interface {
	ObserveCert(notAfter time.Time, ok bool)
}

// MonitorOptions configures a Monitor. Clock and Recorder are optional.
type MonitorOptions struct {
	Endpoint string
	Interval time.Duration
	TLS      *tls.Config
	Clock    clockwork.Clock
	Recorder Recorder
}

// Monitor re-checks one endpoint on a fixed interval.
type Monitor struct {
	endpoint string
	interval time.Duration
	tls      *tls.Config
	clock    clockwork.Clock
	recorder Recorder

	mu   sync.RWMutex
	last *Status
}

// NewMonitor creates a Monitor. Nothing is dialled until Run.
func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		endpoint: opts.Endpoint,
		interval: opts.Interval,
		tls:      opts.TLS,
		clock:    opts.Clock,
		recorder: opts.Recorder,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	return m
}

// Last returns the most recent result, if any check has completed.
func (m *Monitor) Last() (*Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return nil, false
	}
	cp := *m.last
	return &cp, true
}

// CheckOnce runs a single check and stores its result. It returns nil for
// plain-HTTP endpoints.
func (m *Monitor) CheckOnce(ctx context.Context) *Status {
	st := Check(ctx, m.endpoint, m.tls, m.clock.Now())
	if st == nil {
		return nil
	}

	m.mu.Lock()
	m.last = st
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.ObserveCert(st.NotAfter, st.State != StateUnreachable)
	}

	switch st.State {
	case StateExpired, StateExpiring:
		slog.Warn("certcheck: upstream certificate needs renewal",
			"endpoint", st.Endpoint, "status", st.State, "days_left", st.DaysLeft)
	case StateUnreachable:
		slog.Warn("certcheck: could not inspect upstream certificate",
			"endpoint", st.Endpoint, "err", st.Error)
	default:
		slog.Debug("certcheck: upstream certificate valid",
			"endpoint", st.Endpoint, "days_left", st.DaysLeft)
	}
	return st
}

// Run checks immediately and then once per interval until ctx is cancelled.
// It returns at once for plain-HTTP endpoints or a non-positive interval.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return nil
	}
	if m.CheckOnce(ctx) == nil {
		slog.Debug("certcheck: endpoint is not https, skipping", "endpoint", m.endpoint)
		return nil
	}

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			m.CheckOnce(ctx)
		}
	}
}
