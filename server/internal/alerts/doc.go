// Package alerts turns the stream of upstream probe results into up/down
// notifications. An alert fires after a configurable number of consecutive
// failed probes and resolves on the next successful one; both transitions are
// delivered to Teams, Slack, or generic HTTP webhooks.
package alerts
