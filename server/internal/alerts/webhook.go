package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// notification is the rendered form of an alert shared by every chat payload.
type notification struct {
	label    string // "[CRITICAL]" or "[RESOLVED]"
	color    string // hex, no leading '#'
	headline string
	facts    [][2]string
}

func render(a *Alert) notification {
	n := notification{
		label:    "[CRITICAL]",
		color:    "FF4F6A",
		headline: a.Message,
		facts: [][2]string{
			{"Upstream", a.Target},
			{"Failed probes", strconv.Itoa(a.Failures)},
			{"Down since", a.FiredAt.UTC().Format(time.RFC3339)},
		},
	}
	if a.State == StateResolved && a.ResolvedAt != nil {
		down := a.ResolvedAt.Sub(a.FiredAt).Round(time.Second)
		n.label = "[RESOLVED]"
		n.color = "2EB67D"
		n.headline = fmt.Sprintf("upstream %s recovered after %s", a.Target, down)
		n.facts = append(n.facts, [2]string{"Recovered at", a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return n
}

type sender func(e *Engine, url string, a *Alert) error

var senders = map[string]sender{
	"slack": sendSlack,
	"teams": sendTeams,
	"http":  sendHTTP,
}

// deliver posts a to every configured webhook. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			slog.Debug("alerts: webhook url unset, skipping", "type", wh.Type, "url_env", wh.URLEnv)
			continue
		}
		send, ok := senders[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		log := slog.With("type", wh.Type, "alert_id", a.ID, "state", a.State)
		if err := send(e, url, a); err != nil {
			log.Error("alerts: webhook delivery failed", "err", err)
			continue
		}
		log.Debug("alerts: webhook delivered")
	}
}

func sendSlack(e *Engine, url string, a *Alert) error {
	n := render(a)
	fields := make([]map[string]interface{}, 0, len(n.facts))
	for _, f := range n.facts {
		fields = append(fields, map[string]interface{}{"title": f[0], "value": f[1], "short": f[0] != "Upstream"})
	}
	return e.post(url, map[string]interface{}{
		"text": fmt.Sprintf("*%s* %s", n.label, n.headline),
		"attachments": []map[string]interface{}{
			{"color": "#" + n.color, "fields": fields},
		},
	})
}

func sendTeams(e *Engine, url string, a *Alert) error {
	n := render(a)
	facts := make([]map[string]string, 0, len(n.facts))
	for _, f := range n.facts {
		facts = append(facts, map[string]string{"name": f[0], "value": f[1]})
	}
	return e.post(url, map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": n.color,
		"summary":    a.RuleName,
		"title":      n.label + " " + n.headline,
		"sections":   []map[string]interface{}{{"facts": facts}},
	})
}

// sendHTTP posts the alert as-is for generic receivers.
func sendHTTP(e *Engine, url string, a *Alert) error {
	return e.post(url, map[string]interface{}{"alert": a})
}

func (e *Engine) post(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
