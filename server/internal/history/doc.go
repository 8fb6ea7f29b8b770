// Package history keeps a bounded, time-limited record of the snapshots the
// publisher has broadcast, for the REST API.
//
// Store subscribes to the broadcast cell like any WebSocket client does, so a
// slow reader of the history never delays the publisher. Because the cell is
// latest-value-wins, a version published and replaced before Store woke up
// is not recorded.
package history
