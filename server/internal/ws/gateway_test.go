package ws

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/statuscast/server/internal/broadcast"
	"github.com/obsidianstack/statuscast/server/internal/metrics"
	"github.com/obsidianstack/statuscast/server/internal/registry"
)

// --- fake stream ------------------------------------------------------------

// fakeStream is a scriptable Stream. Writes go to the writes channel unless
// writeErr is set. Reads come from the reads channel; a closed reads channel
// yields io.EOF. When ignoreCancel is set, ReadMessage blocks forever and
// honours neither ctx nor Close.
type fakeStream struct {
	writeErr     error
	writes       chan []byte
	reads        chan []byte
	ignoreCancel bool

	closeCalls  atomic.Int32
	readCtx     atomic.Pointer[context.Context]
	readsExited chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		writes:      make(chan []byte, 16),
		reads:       make(chan []byte),
		readsExited: make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

func (f *fakeStream) WriteMessage(ctx context.Context, msg []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	select {
	case f.writes <- msg:
		return nil
	case <-f.closed:
		return errors.New("stream closed")
	}
}

func (f *fakeStream) ReadMessage(ctx context.Context) ([]byte, error) {
	f.readCtx.Store(&ctx)
	if f.ignoreCancel {
		select {} // a read that never returns
	}
	select {
	case msg, ok := <-f.reads:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		f.markReadExited()
		return nil, ctx.Err()
	case <-f.closed:
		f.markReadExited()
		return nil, errors.New("stream closed")
	}
}

func (f *fakeStream) markReadExited() {
	select {
	case <-f.readsExited:
	default:
		close(f.readsExited)
	}
}

func (f *fakeStream) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// --- helpers ----------------------------------------------------------------

type gatewayHarness struct {
	cell    *broadcast.Cell[[]byte]
	reg     *registry.Registry
	metrics *metrics.Collector
	gw      *Gateway
}

func newGatewayHarness() *gatewayHarness {
	h := &gatewayHarness{
		cell: broadcast.New([]byte("{}")),
		reg:  registry.New(),
	}
	h.metrics = metrics.New(h.reg)
	h.gw = NewGateway(h.cell, h.reg, h.metrics)
	return h
}

// serve runs Serve in the background and returns a channel with its result.
func (h *gatewayHarness) serve(ctx context.Context, s Stream) <-chan Loop {
	out := make(chan Loop, 1)
	go func() { out <- h.gw.Serve(ctx, s) }()
	return out
}

func waitLoop(t *testing.T, ch <-chan Loop) Loop {
	t.Helper()
	select {
	case l := <-ch:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return ""
	}
}

// --- tests ------------------------------------------------------------------

func TestGateway_RelaysPublishedValues(t *testing.T) {
	h := newGatewayHarness()
	s := newFakeStream()
	done := h.serve(context.Background(), s)

	require.Eventually(t, func() bool { return h.reg.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.cell.Publish([]byte("one")))
	select {
	case msg := <-s.writes:
		assert.Equal(t, "one", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("value was not relayed")
	}

	close(s.reads) // client hangs up
	assert.Equal(t, LoopInbound, waitLoop(t, done))
	assert.Equal(t, 0, h.reg.Count())
}

func TestGateway_DiscardsClientMessages(t *testing.T) {
	h := newGatewayHarness()
	s := newFakeStream()
	done := h.serve(context.Background(), s)

	s.reads <- []byte("hello")
	s.reads <- []byte{0x01, 0x02}

	assert.Empty(t, s.writes, "client messages must not be echoed")
	assert.Equal(t, 1, h.reg.Count())

	close(s.reads)
	waitLoop(t, done)
}

func TestGateway_WriteFailureCancelsBlockedRead(t *testing.T) {
	h := newGatewayHarness()
	s := newFakeStream()
	s.writeErr = errors.New("broken pipe")
	done := h.serve(context.Background(), s)

	require.Eventually(t, func() bool { return s.readCtx.Load() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.cell.Publish([]byte("x")))

	assert.Equal(t, LoopOutbound, waitLoop(t, done))
	assert.Equal(t, 0, h.reg.Count())

	// The inbound loop was told to stop and did.
	readCtx := *s.readCtx.Load()
	assert.ErrorIs(t, readCtx.Err(), context.Canceled)
	select {
	case <-s.readsExited:
	case <-time.After(2 * time.Second):
		t.Fatal("inbound loop was not cancelled")
	}
	assert.Equal(t, int32(1), s.closeCalls.Load())
}

func TestGateway_DeregistersEvenIfReadNeverReturns(t *testing.T) {
	h := newGatewayHarness()
	h.reg.Increment() // another, unrelated client

	s := newFakeStream()
	s.writeErr = errors.New("broken pipe")
	s.ignoreCancel = true
	done := h.serve(context.Background(), s)

	require.Eventually(t, func() bool { return h.reg.Count() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.cell.Publish([]byte("x")))

	assert.Equal(t, LoopOutbound, waitLoop(t, done))

	// Exactly one decrement: the unrelated client is still counted.
	assert.Equal(t, 1, h.reg.Count())
}

func TestGateway_ReadEOFCancelsRelay(t *testing.T) {
	h := newGatewayHarness()
	s := newFakeStream()
	done := h.serve(context.Background(), s)

	close(s.reads)
	assert.Equal(t, LoopInbound, waitLoop(t, done))
	assert.Equal(t, 0, h.reg.Count())

	// Publishing after the connection ended reaches nobody and never blocks.
	require.NoError(t, h.cell.Publish([]byte("late")))
	assert.Empty(t, s.writes)
}

func TestGateway_CellClosedEndsConnection(t *testing.T) {
	h := newGatewayHarness()
	s := newFakeStream()
	done := h.serve(context.Background(), s)

	require.Eventually(t, func() bool { return h.reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.cell.Close()

	assert.Equal(t, LoopOutbound, waitLoop(t, done))
	assert.Equal(t, 0, h.reg.Count())
}

func TestGateway_ContextCancelEndsConnection(t *testing.T) {
	h := newGatewayHarness()
	s := newFakeStream()
	ctx, cancel := context.WithCancel(context.Background())
	done := h.serve(ctx, s)

	require.Eventually(t, func() bool { return h.reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	waitLoop(t, done)
	assert.Equal(t, 0, h.reg.Count())
}

func TestGateway_ManyConnectionsBalanceRegistry(t *testing.T) {
	h := newGatewayHarness()

	const conns = 20
	streams := make([]*fakeStream, conns)
	results := make([]<-chan Loop, conns)
	for i := range streams {
		streams[i] = newFakeStream()
		results[i] = h.serve(context.Background(), streams[i])
	}
	require.Eventually(t, func() bool { return h.reg.Count() == conns }, time.Second, 5*time.Millisecond)

	// Half hang up, half fail on the next write.
	for i, s := range streams {
		if i%2 == 0 {
			close(s.reads)
		} else {
			s.Close() //nolint:errcheck
		}
	}
	for _, r := range results {
		waitLoop(t, r)
	}

	assert.Equal(t, 0, h.reg.Count())
	assert.Equal(t, float64(conns), testutil.ToFloat64(h.metrics.ConnectionsTotal))
}
