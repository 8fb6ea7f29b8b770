package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/statuscast/server/internal/broadcast"
	"github.com/obsidianstack/statuscast/server/internal/metrics"
	"github.com/obsidianstack/statuscast/server/internal/registry"
)

// Stream is a duplex message stream whose two directions can be used from
// different goroutines. Close must unblock any pending ReadMessage or
// WriteMessage. Implementations may refuse to start an operation once ctx is
// done but need not abort one already in progress; Serve relies on Close for
// that.
type Stream interface {
	WriteMessage(ctx context.Context, msg []byte) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// Loop names one of the two per-connection loops.
type Loop string

const (
	LoopOutbound Loop = "outbound"
	LoopInbound  Loop = "inbound"
)

// Gateway couples every accepted stream to the broadcast cell and the
// session registry.
type Gateway struct {
	cell    *broadcast.Cell[[]byte]
	clients *registry.Registry
	metrics *metrics.Collector
}

// NewGateway creates a Gateway. m may be nil.
func NewGateway(cell *broadcast.Cell[[]byte], clients *registry.Registry, m *metrics.Collector) *Gateway {
	return &Gateway{cell: cell, clients: clients, metrics: m}
}

// Serve runs one connection until either loop ends or ctx is cancelled, and
// reports which loop ended first. The stream is closed before Serve returns.
func (g *Gateway) Serve(ctx context.Context, s Stream) Loop {
	log := slog.With("conn", uuid.NewString())
	started := time.Now()

	// Subscribe before registering so a client that is already counted never
	// misses a publish.
	sub := g.cell.Subscribe()
	n := g.clients.Increment()
	if g.metrics != nil {
		g.metrics.ConnectionsTotal.Inc()
	}
	log.Info("ws: client connected", "clients_count", n)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the losing loop can always report and exit after being
	// abandoned.
	ended := make(chan Loop, 2)
	go func() {
		g.relay(ctx, log, sub, s)
		ended <- LoopOutbound
	}()
	go func() {
		g.drain(ctx, log, s)
		ended <- LoopInbound
	}()

	first := <-ended
	cancel()
	if err := s.Close(); err != nil {
		log.Debug("ws: close stream", "err", err)
	}

	n, err := g.clients.Decrement()
	if err != nil {
		log.Error("ws: deregister client", "err", err)
	}
	if g.metrics != nil {
		g.metrics.ObserveConnection(string(first), time.Since(started))
	}
	log.Info("ws: client disconnected",
		"ended_by", first,
		"clients_count", n,
		"duration", time.Since(started),
	)
	return first
}

// relay forwards every new cell value to the client. It returns when a write
// fails, the cell is closed or ctx is cancelled.
func (g *Gateway) relay(ctx context.Context, log *slog.Logger, sub *broadcast.Subscription[[]byte], s Stream) {
	for {
		msg, err := sub.WaitForChange(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrClosed) {
				log.Debug("ws: broadcast closed")
			}
			return
		}
		if err := s.WriteMessage(ctx, msg); err != nil {
			log.Debug("ws: write failed", "version", sub.Version(), "err", err)
			return
		}
	}
}

// drain reads and discards client messages until the stream ends.
func (g *Gateway) drain(ctx context.Context, log *slog.Logger, s Stream) {
	for {
		msg, err := s.ReadMessage(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Debug("ws: unexpected close", "err", err)
			default:
				log.Debug("ws: read failed", "err", err)
			}
			return
		}
		log.Debug("ws: ignoring client message", "bytes", len(msg))
	}
}
