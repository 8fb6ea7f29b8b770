package api

import (
	"github.com/obsidianstack/statuscast/server/internal/alerts"
	"github.com/obsidianstack/statuscast/server/internal/history"
)

// ClientsResponse is the payload for GET /api/v1/clients.
type ClientsResponse struct {
	ClientsCount int `json:"clients_count"`
}

// HistoryResponse is the payload for GET /api/v1/history.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
