// Package api implements the small HTTP REST API of statuscast-server.
//
// New(cell, clients, opts) returns an http.Handler that serves:
//
//	GET /api/v1/status      : the last published snapshot, exactly as WebSocket
//	                          clients received it ({} before the first publish)
//	GET /api/v1/clients     : the live connected-client count
//	GET /api/v1/history     : recently published snapshots, oldest first (?limit=N)
//	GET /api/v1/alerts      : the firing upstream alert plus those resolved in the last hour
//	GET /api/v1/certificate : the latest upstream TLS certificate check
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//
// /api/v1/status also sets X-Status-Version to the broadcast cell version.
package api
