// Package health provides health monitoring functionality for components and systems
package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Health states, ordered from best to worst.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var severity = map[string]int{
	StateHealthy:   0,
	StateDegraded:  1,
	StateUnhealthy: 2,
}

var (
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component, optionally with the components
// below it. Healthy mirrors State for clients that only want a boolean.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the counters a listener or engine reports with its status.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy returns a healthy status for component.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded returns a degraded status: working, but not as configured.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy returns an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of s carrying metrics.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy of s with sub appended. The receiver's slice is
// never shared with the result.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, 0, len(s.SubStatuses)+1)
	s.SubStatuses = append(append(subs, s.SubStatuses...), sub)
	return s
}

// Aggregate rolls subStatuses up into one status for component. The result
// takes the worst state present; its message names the components at that
// state. Unknown states count as unhealthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components reporting")
	}

	worst := StateHealthy
	var offenders []string
	for _, sub := range subStatuses {
		state := sub.Status
		if _, known := severity[state]; !known {
			state = StateUnhealthy
		}
		switch {
		case severity[state] > severity[worst]:
			worst = state
			offenders = []string{sub.Component}
		case state == worst && state != StateHealthy:
			offenders = append(offenders, sub.Component)
		}
	}

	message := fmt.Sprintf("%d components healthy", len(subStatuses))
	if worst != StateHealthy {
		message = fmt.Sprintf("%s: %s", worst, strings.Join(offenders, ", "))
	}

	status := newStatus(component, worst, message)
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

// SanitizeMessage removes addresses, paths and credentials from an error message
// before it is exposed through the admin API.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	out := natsURLRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	return credentialRegex.ReplaceAllString(out, "[REDACTED]")
}
