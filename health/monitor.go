package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest Status of each pipeline part. A nil Monitor
// ignores updates, so components can report unconditionally.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name. Since is carried over while the level
// (healthy, degraded, unhealthy) stays the same, so a transport that keeps
// failing to reopen reports when it first went down.
func (m *Monitor) Update(name string, status Status) {
	if m == nil {
		return
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	status.Component = name

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.statuses[name]; ok && prev.Status == status.Status && !prev.Since.IsZero() {
		status.Since = prev.Since
	} else {
		status.Since = status.Timestamp
	}
	m.statuses[name] = status
}

// UpdateHealthy marks name healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks name unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the latest status recorded for name.
func (m *Monitor) Get(name string) (Status, bool) {
	if m == nil {
		return Status{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// AggregateHealth rolls every tracked part into one Status named systemName,
// with the parts sorted by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	parts := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		parts = append(parts, status)
	}
	m.mu.RUnlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].Component < parts[j].Component })
	return Aggregate(systemName, parts)
}
