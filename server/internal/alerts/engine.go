package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/statuscast/server/internal/config"
)

const (
	ruleUpstreamDown  = "upstream_down"
	severityCritical  = "critical"
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Target     string     `json:"target"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Failures   int        `json:"failures"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine tracks consecutive probe failures for one upstream and delivers
// webhook notifications when the upstream goes down or comes back.
//
// Engine is safe for concurrent use.
type Engine struct {
	target    string
	threshold int
	cooldown  time.Duration
	webhooks  []config.WebhookConfig

	mu       sync.Mutex
	failures int
	active   *Alert
	lastFire time.Time
	history  []*Alert // recently resolved alerts
	client   *http.Client
	now      func() time.Time // injectable for deterministic tests

	inflight sync.WaitGroup
}

// New creates an Engine for the upstream at target.
// An Engine without webhooks is valid: alerts are still tracked and logged.
func New(target string, cfg config.AlertsConfig) *Engine {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = config.DefaultFailureThreshold
	}
	return &Engine{
		target:    target,
		threshold: threshold,
		cooldown:  cfg.Cooldown,
		webhooks:  cfg.Webhooks,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

// ObserveProbe feeds one probe result into the engine.
// A firing alert is created once failures reach the threshold, unless one
// fired within the cooldown. The first successful probe resolves it.
func (e *Engine) ObserveProbe(up bool) {
	now := e.now()
	e.mu.Lock()

	if up {
		e.failures = 0
		a := e.active
		if a == nil {
			e.mu.Unlock()
			return
		}
		resolved := now
		a.State = StateResolved
		a.ResolvedAt = &resolved
		e.active = nil

		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		alertCopy := *a
		e.mu.Unlock()

		slog.Info("alert resolved", "rule", alertCopy.RuleName, "target", e.target)
		e.dispatch(&alertCopy)
		return
	}

	e.failures++
	if e.active != nil {
		e.active.Failures = e.failures
		e.mu.Unlock()
		return
	}
	if e.failures < e.threshold || (!e.lastFire.IsZero() && now.Sub(e.lastFire) < e.cooldown) {
		e.mu.Unlock()
		return
	}

	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: ruleUpstreamDown,
		Target:   e.target,
		Severity: severityCritical,
		Failures: e.failures,
		Message: fmt.Sprintf("[%s] upstream %s is down after %d failed probe(s)",
			severityCritical, e.target, e.failures),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active = a
	e.lastFire = now
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alert fired",
		"rule", alertCopy.RuleName,
		"target", e.target,
		"failures", alertCopy.Failures,
	)
	e.dispatch(&alertCopy)
}

// Active returns copies of the currently firing alert plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, 1+len(e.history))

	if e.active != nil {
		cp := *e.active
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until every webhook delivery started so far has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.deliver(a)
	}()
}
