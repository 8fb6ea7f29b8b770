// Package ws implements the WebSocket side of statuscast-server.
//
// Gateway.Serve(ctx, stream) runs one client connection. It registers the
// client, subscribes to the broadcast cell and runs two loops side by side:
//
//   - the outbound relay waits for each new snapshot and writes it to the client
//   - the inbound drain reads and discards whatever the client sends
//
// Whichever loop ends first wins. The gateway then cancels the other loop,
// closes the stream so any blocked read or write is abandoned, and
// deregisters the client exactly once. It does not wait for the losing loop.
//
// Handler upgrades an HTTP request with gorilla/websocket and hands the
// connection to the gateway. The Conn adapter keeps the link alive with ping
// frames and treats a missing pong as a dead connection.
//
// Message format sent to clients:
//
//	{
//	  "clients_count": 2,
//	  "dateTime":      "2024-03-01T11:30:00Z",
//	  "is_up":         true
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
