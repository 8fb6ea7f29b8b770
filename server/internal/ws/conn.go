package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps a single inbound frame. Client messages are
	// discarded, so this only guards memory.
	maxMessageSize = 64 << 10
)

// Conn adapts a gorilla WebSocket connection to Stream. Only one goroutine
// may call WriteMessage and only one may call ReadMessage; pings and Close
// go through WriteControl and are safe alongside both.
type Conn struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn configures read limits and keepalive on c and starts the ping loop.
func NewConn(c *websocket.Conn) *Conn {
	wc := &Conn{conn: c, closed: make(chan struct{})}

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	go wc.keepalive(pingPeriod)
	return wc
}

// WriteMessage sends msg as a single text frame. The write is bounded by
// writeTimeout or ctx's deadline, whichever comes first.
func (c *Conn) WriteMessage(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// ReadMessage returns the payload of the next text or binary frame. It blocks
// until a frame arrives, the read deadline passes or Close is called; ctx is
// only checked before the read starts.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

// Close sends a best-effort close frame and closes the underlying
// connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.WriteControl( //nolint:errcheck
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// keepalive sends ping frames until the connection is closed. A failed ping
// closes the connection, which in turn ends both gateway loops.
func (c *Conn) keepalive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.Close() //nolint:errcheck
				return
			}
		}
	}
}
