package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket and serves them through a
// Gateway.
type Handler struct {
	gateway *Gateway
}

// NewHandler returns an http.Handler serving WebSocket clients via g.
func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

// ServeHTTP upgrades the connection and blocks until the gateway is done
// with it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		slog.Debug("ws: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	h.gateway.Serve(r.Context(), NewConn(conn))
}
