// Package config loads the statuscast-server configuration from a YAML file.
//
// Config fields:
//   - Server.HTTPPort         : port for the WebSocket endpoint, REST API and static files (default 8000)
//   - Server.WebSocketPath    : path that is upgraded to WebSocket (default /websocket)
//   - Server.StaticDir        : directory served for every other path; empty disables it
//   - Status.Interval         : pause between two published snapshots (default 15s)
//   - Status.HealthURL        : upstream URL probed every cycle (default https://api.shuttle.rs)
//   - Status.ProbeTimeout     : upper bound on a single probe (default 10s)
//   - Status.StrictStatus     : treat 5xx responses as down (default false)
//   - Status.InsecureSkipVerify, Status.CAFile: TLS options for the probe
//   - Status.CertCheckInterval: how often the upstream TLS certificate is inspected (default 1h)
//   - History                 : retention and size of the in-memory snapshot history
//   - Alerts                  : failure threshold, cooldown and webhook targets for up/down notifications
//   - Log.Level               : debug | info | warn | error (default info)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change and hands the result to fn.
package config
