// Package notify supplements the spec's four core components with the
// notification-channel *selection* logic from
// original_source/app/realtime/notification_config.py — matching an
// EventUpdate to a set of channel names. Actual dispatch content (what
// an email/Slack/webhook message looks like) stays out of scope per
// spec.md's Non-goals; only Notifier.Dispatch's existence is implemented
// here, driven by the runtime manager.
package notify

import (
	"sync"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// Rule mirrors one entry of notification_config.py's NotificationRule:
// a severity/category/source match that selects a set of channels, with
// its own throttle window.
type Rule struct {
	Name            string
	Enabled         bool
	MinSeverity     int
	MaxSeverity     int
	Categories      []string // empty = all
	Sources         []string // empty = all
	Channels        []string
	ThrottleMinutes int
}

// Router selects notification channels for an EventUpdate by evaluating
// Rules in order, throttling repeat fires of the same rule.
type Router struct {
	mu        sync.Mutex
	rules     []Rule
	lastFired map[string]time.Time
}

// NewRouter builds a Router from a rule set, evaluated in the given
// order (original_source evaluates "high_severity_alerts" before
// "critical_security_events", so order is significant for the channel
// lists' eventual ordering even though the result is deduplicated).
func NewRouter(rules []Rule) *Router {
	return &Router{rules: rules, lastFired: make(map[string]time.Time)}
}

// Severity maps a threatlens.Priority onto the 1-10 scale
// notification_config.py's rules are expressed in: CRITICAL=10 down to
// BULK=2.
func Severity(p threatlens.Priority) int {
	return (6 - int(p)) * 2
}

// Select returns the deduplicated, rule-order-preserving set of channel
// names that should receive ev, skipping any rule currently throttled.
func (r *Router) Select(ev threatlens.EventUpdate) []string {
	severity := Severity(threatlens.Priority(ev.Priority))
	category, _ := ev.Payload["category"].(string)
	source, _ := ev.Payload["source_name"].(string)

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	now := time.Now()
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if severity < rule.MinSeverity || severity > rule.MaxSeverity {
			continue
		}
		if len(rule.Categories) > 0 && !contains(rule.Categories, category) {
			continue
		}
		if len(rule.Sources) > 0 && !contains(rule.Sources, source) {
			continue
		}
		if last, ok := r.lastFired[rule.Name]; ok {
			if now.Sub(last) < time.Duration(rule.ThrottleMinutes)*time.Minute {
				continue
			}
		}
		r.lastFired[rule.Name] = now
		for _, ch := range rule.Channels {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
