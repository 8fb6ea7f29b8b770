package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/obsidianstack/statuscast/server/internal/alerts"
	"github.com/obsidianstack/statuscast/server/internal/broadcast"
	"github.com/obsidianstack/statuscast/server/internal/certcheck"
	"github.com/obsidianstack/statuscast/server/internal/history"
)

// ClientCounter is the read side of the session registry.
type ClientCounter interface {
	Count() int
}

// HistoryLister returns recently published snapshots.
type HistoryLister interface {
	List(limit int) []history.Entry
}

// AlertLister returns current and recently resolved alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// CertReporter returns the latest certificate check, if any.
type CertReporter interface {
	Last() (*certcheck.Status, bool)
}

// Options holds the optional data sources. A nil source makes its endpoint
// answer with an empty result.
type Options struct {
	History HistoryLister
	Alerts  AlertLister
	Certs   CertReporter
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	cell    *broadcast.Cell[[]byte]
	clients ClientCounter
	opts    Options
	mux     *http.ServeMux
}

// New creates a Handler reading from cell and clients and registers all routes.
func New(cell *broadcast.Cell[[]byte], clients ClientCounter, opts Options) http.Handler {
	h := &Handler{cell: cell, clients: clients, opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/status", getOnly(h.status))
	h.mux.HandleFunc("/api/v1/clients", getOnly(h.clientCount))
	h.mux.HandleFunc("/api/v1/history", getOnly(h.history))
	h.mux.HandleFunc("/api/v1/alerts", getOnly(h.alerts))
	h.mux.HandleFunc("/api/v1/certificate", getOnly(h.certificate))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// status returns GET /api/v1/status: the latest wire message.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	msg, version := h.cell.Load()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Status-Version", strconv.FormatUint(version, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(msg) //nolint:errcheck
}

// clientCount returns GET /api/v1/clients: the live registry count.
func (h *Handler) clientCount(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, ClientsResponse{ClientsCount: h.clients.Count()})
}

// history returns GET /api/v1/history[?limit=N].
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	resp := HistoryResponse{Entries: []history.Entry{}}
	if h.opts.History != nil {
		resp.Entries = h.opts.History.List(limit)
	}
	jsonResp(w, http.StatusOK, resp)
}

// alerts returns GET /api/v1/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	resp := AlertsResponse{Alerts: []*alerts.Alert{}}
	if h.opts.Alerts != nil {
		resp.Alerts = h.opts.Alerts.Active()
	}
	jsonResp(w, http.StatusOK, resp)
}

// certificate returns GET /api/v1/certificate, or 404 before the first check
// and for plain-HTTP upstreams.
func (h *Handler) certificate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Certs == nil {
		jsonErr(w, http.StatusNotFound, "certificate check disabled")
		return
	}
	st, ok := h.opts.Certs.Last()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no certificate check result yet")
		return
	}
	jsonResp(w, http.StatusOK, st)
}

// --- helpers ----------------------------------------------------------------

func getOnly(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
