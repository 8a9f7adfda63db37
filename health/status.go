// Package health tracks the health of pipeline parts (transport, delivery
// queue, sensor) and aggregates them for the status surface.
package health

import (
	"regexp"
	"time"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{2,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|authorization)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Since       time.Time `json:"since,omitempty"` // start of the current level; set by Monitor
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// sanitizeErrorMessage strips collector URLs, addresses and credentials from
// an error before it is exposed on the unauthenticated status surface. FIFO
// paths are kept; they are configuration, not secrets.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	return msg
}

// FromError builds a status for component: healthy when err is nil, otherwise
// degraded or unhealthy depending on fatal, with a sanitized message.
func FromError(component string, err error, fatal bool) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	if fatal {
		return NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
	}
	return NewDegraded(component, sanitizeErrorMessage(err.Error()))
}
