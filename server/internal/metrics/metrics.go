// Package metrics exposes the server's Prometheus metrics.
//
// Collectors live on a dedicated registry rather than the global default so
// tests can build as many independent Collectors as they need.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statuscast"

// ClientCounter is the read side of the session registry.
type ClientCounter interface {
	Count() int
}

// Collector holds every metric the server records.
type Collector struct {
	registry *prometheus.Registry

	PublishTotal       prometheus.Counter
	ProbeFailuresTotal prometheus.Counter
	UpstreamUp         prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionDuration prometheus.Histogram
	ConnectionsClosed  *prometheus.CounterVec
	UpstreamCertExpiry prometheus.Gauge
	CertChecksFailed   prometheus.Counter
}

// New registers all collectors on a fresh registry. clients backs the
// connected-clients gauge and may be nil, in which case the gauge is omitted.
func New(clients ClientCounter) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		PublishTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Snapshots published to the broadcast cell.",
		}),
		ProbeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Upstream health probes that reported the upstream as down.",
		}),
		UpstreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_up",
			Help:      "Result of the last upstream probe (1 = up, 0 = down).",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "WebSocket connections accepted since start.",
		}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of WebSocket connections.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Closed connections by the loop that ended first.",
		}, []string{"reason"}),
		UpstreamCertExpiry: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_cert_expiry_timestamp_seconds",
			Help:      "NotAfter of the upstream TLS leaf certificate as a Unix timestamp.",
		}),
		CertChecksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cert_checks_failed_total",
			Help:      "Upstream certificate checks that could not complete a TLS handshake.",
		}),
	}

	c.registry.MustRegister(
		c.PublishTotal,
		c.ProbeFailuresTotal,
		c.UpstreamUp,
		c.ConnectionsTotal,
		c.ConnectionDuration,
		c.ConnectionsClosed,
		c.UpstreamCertExpiry,
		c.CertChecksFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if clients != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "WebSocket clients currently registered.",
		}, func() float64 { return float64(clients.Count()) }))
	}

	return c
}

// Registry returns the underlying registry, for tests and custom exporters.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveProbe records the outcome of one upstream probe.
func (c *Collector) ObserveProbe(up bool) {
	if up {
		c.UpstreamUp.Set(1)
		return
	}
	c.UpstreamUp.Set(0)
	c.ProbeFailuresTotal.Inc()
}

// ObserveConnection records one finished connection.
func (c *Collector) ObserveConnection(reason string, lifetime time.Duration) {
	c.ConnectionsClosed.WithLabelValues(reason).Inc()
	c.ConnectionDuration.Observe(lifetime.Seconds())
}

// ObserveCert records one upstream certificate check. A failed check leaves
// the last known expiry in place.
func (c *Collector) ObserveCert(notAfter time.Time, ok bool) {
	if !ok {
		c.CertChecksFailed.Inc()
		return
	}
	c.UpstreamCertExpiry.Set(float64(notAfter.Unix()))
}

// Handler serves the registry in the exposition format negotiated from the
// request. Gather errors are logged and the metrics that did gather are
// still served.
func (c *Collector) Handler() http.Handler {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      c.registry,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}
