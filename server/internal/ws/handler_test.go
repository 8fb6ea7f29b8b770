package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/statuscast/server/internal/broadcast"
	"github.com/obsidianstack/statuscast/server/internal/health"
	"github.com/obsidianstack/statuscast/server/internal/publisher"
	"github.com/obsidianstack/statuscast/server/internal/registry"
	"github.com/obsidianstack/statuscast/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

type env struct {
	wsURL  string
	cell   *broadcast.Cell[[]byte]
	reg    *registry.Registry
	cancel context.CancelFunc
}

// startServer runs a test HTTP server with the WebSocket handler and a
// publisher republishing every interval. The publisher is stopped on cleanup.
func startServer(t *testing.T, interval time.Duration) *env {
	t.Helper()

	e := &env{
		cell: broadcast.New(publisher.EmptyMessage),
		reg:  registry.New(),
	}
	gw := ws.NewGateway(e.cell, e.reg, nil)
	srv := httptest.NewServer(ws.NewHandler(gw))

	p := publisher.New(publisher.Options{
		Interval: interval,
		Prober:   health.ProberFunc(func(context.Context) bool { return true }),
		Clients:  e.reg,
		Cell:     e.cell,
	})
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx) //nolint:errcheck
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	e.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return e
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "dial %s", wsURL)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readSnapshot reads one message from conn with a short deadline.
func readSnapshot(t *testing.T, conn *websocket.Conn) publisher.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var s publisher.Snapshot
	require.NoError(t, json.Unmarshal(msg, &s), "body: %s", msg)
	return s
}

// readUntilCount reads snapshots until one reports want clients.
func readUntilCount(t *testing.T, conn *websocket.Conn, want int) publisher.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := readSnapshot(t, conn); s.ConnectedClients == want {
			return s
		}
	}
	t.Fatalf("no snapshot with clients_count=%d", want)
	return publisher.Snapshot{}
}

// --- tests ------------------------------------------------------------------

func TestHandler_EndToEnd_TwoClients(t *testing.T) {
	e := startServer(t, 0)

	a := dial(t, e.wsURL)
	b := dial(t, e.wsURL)
	require.Eventually(t, func() bool { return e.reg.Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Several cycles run while both are connected; each client ends up with
	// a snapshot that counts both of them.
	sa := readUntilCount(t, a, 2)
	sb := readUntilCount(t, b, 2)
	assert.True(t, sa.UpstreamHealthy)
	assert.True(t, sb.UpstreamHealthy)
	assert.False(t, sa.Timestamp.IsZero())

	a.Close()
	b.Close()
	require.Eventually(t, func() bool { return e.reg.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_ClientMessagesAreIgnored(t *testing.T) {
	e := startServer(t, 10*time.Millisecond)

	conn := dial(t, e.wsURL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping?")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xde, 0xad}))

	// The connection stays up and keeps receiving snapshots.
	s := readUntilCount(t, conn, 1)
	assert.Equal(t, 1, s.ConnectedClients)
	assert.Equal(t, 1, e.reg.Count())
}

func TestHandler_CountDecreasesOnDisconnect(t *testing.T) {
	e := startServer(t, time.Hour)

	conn := dial(t, e.wsURL)
	require.Eventually(t, func() bool { return e.reg.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return e.reg.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_PublisherStopClosesConnections(t *testing.T) {
	e := startServer(t, time.Hour)

	conn := dial(t, e.wsURL)
	require.Eventually(t, func() bool { return e.reg.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	e.cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return e.reg.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_NonWebSocketRequest_Returns400(t *testing.T) {
	gw := ws.NewGateway(broadcast.New(publisher.EmptyMessage), registry.New(), nil)
	srv := httptest.NewServer(ws.NewHandler(gw))
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers -> 400
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
