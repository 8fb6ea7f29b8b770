// Package publisher runs the background loop that computes a status Snapshot
// every interval and publishes it to the broadcast cell.
//
// The loop has a single running state. It ends when its context is
// cancelled or when the cell reports it has been closed, and it always closes
// the cell on the way out so every subscribed connection terminates too.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/obsidianstack/statuscast/server/internal/broadcast"
	"github.com/obsidianstack/statuscast/server/internal/health"
	"github.com/obsidianstack/statuscast/server/internal/metrics"
)

// DefaultInterval is the pause between two snapshots.
const DefaultInterval = 15 * time.Second

// ClientCounter is the read side of the session registry.
type ClientCounter interface {
	Count() int
}

// ProbeObserver is told the outcome of every probe that completed.
type ProbeObserver interface {
	ObserveProbe(up bool)
}

// Options wires a Publisher to its collaborators. Clock, Metrics and
// Observers are optional.
type Options struct {
	Interval  time.Duration
	Prober    health.Prober
	Clients   ClientCounter
	Cell      *broadcast.Cell[[]byte]
	Clock     clockwork.Clock
	Metrics   *metrics.Collector
	Observers []ProbeObserver
}

// Publisher is the only holder of the cell's publish side.
type Publisher struct {
	interval  time.Duration
	prober    health.Prober
	clients   ClientCounter
	cell      *broadcast.Cell[[]byte]
	clock     clockwork.Clock
	metrics   *metrics.Collector
	observers []ProbeObserver
}

// New creates a Publisher. A negative interval falls back to DefaultInterval.
func New(opts Options) *Publisher {
	p := &Publisher{
		interval:  opts.Interval,
		prober:    opts.Prober,
		clients:   opts.Clients,
		cell:      opts.Cell,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		observers: opts.Observers,
	}
	if p.interval < 0 {
		p.interval = DefaultInterval
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	return p
}

// Run publishes one snapshot per interval until ctx is cancelled or the cell
// is closed. It returns ctx.Err() on cancellation and nil when the cell was
// closed from elsewhere.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.cell.Close()

	slog.Info("publisher: started", "interval", p.interval)

	timer := p.clock.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("publisher: stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-timer.Chan():
		}

		err := p.PublishOnce(ctx)
		if errors.Is(err, broadcast.ErrClosed) {
			slog.Info("publisher: broadcast cell closed, stopping")
			return nil
		}

		timer.Reset(p.interval)
	}
}

// PublishOnce runs a single cycle: probe, read the client count, build,
// encode and publish. Only a closed cell is reported as an error; a failed
// probe just marks the snapshot as down.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	healthy := p.prober.Probe(ctx)
	if err := ctx.Err(); err != nil {
		// Shutting down mid-probe; the down flag would be misleading.
		return err
	}
	if p.metrics != nil {
		p.metrics.ObserveProbe(healthy)
	}
	for _, o := range p.observers {
		o.ObserveProbe(healthy)
	}

	snap := NewSnapshot(p.clients.Count(), p.clock.Now(), healthy)
	msg, err := snap.Marshal()
	if err != nil {
		// A Snapshot is always encodable; skip the cycle if it somehow isn't.
		slog.Error("publisher: marshal snapshot", "err", err)
		return nil
	}

	if err := p.cell.Publish(msg); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.PublishTotal.Inc()
	}

	slog.Debug("publisher: snapshot published",
		"clients_count", snap.ConnectedClients,
		"is_up", snap.UpstreamHealthy,
	)
	return nil
}
