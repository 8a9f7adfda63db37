package health

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		status  Status
		state   string
		healthy bool
	}{
		{NewHealthy("a", "ok"), StatusHealthy, true},
		{NewDegraded("a", "slow"), StatusDegraded, false},
		{NewUnhealthy("a", "down"), StatusUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.state, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("thermstream", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("delivery", nil, false).IsHealthy())

	err := errors.New("Post \"http://collector.local:3000/api/temperature\": dial tcp 10.0.0.5:3000: connection refused")
	s := FromError("delivery", err, false)
	assert.True(t, s.IsDegraded())
	assert.NotContains(t, s.Message, "collector.local")
	assert.NotContains(t, s.Message, "10.0.0.5")
	assert.Contains(t, s.Message, "connection refused")

	fatal := FromError("transport", errors.New("mkfifo /tmp/sensor_data_pipe: permission denied"), true)
	assert.True(t, fatal.IsUnhealthy())
	assert.Contains(t, fatal.Message, "/tmp/sensor_data_pipe")
}

func TestSanitize_Credentials(t *testing.T) {
	got := sanitizeErrorMessage("auth failed token=abc123 for user")
	assert.NotContains(t, got, "abc123")
	assert.Contains(t, got, "[REDACTED]")
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("transport", "fifo open")
	m.Update("delivery", NewDegraded("delivery", "3 buffered"))

	s, ok := m.Get("delivery")
	require.True(t, ok)
	assert.Equal(t, "delivery", s.Component)

	agg := m.AggregateHealth("thermstream")
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "delivery", agg.SubStatuses[0].Component)
	assert.Equal(t, "transport", agg.SubStatuses[1].Component)

	m.UpdateUnhealthy("transport", "closed")
	assert.True(t, m.AggregateHealth("thermstream").IsUnhealthy())

	m.Remove("transport")
	m.UpdateHealthy("delivery", "drained")
	assert.True(t, m.AggregateHealth("thermstream").IsHealthy())
}

func TestMonitor_NilSafe(t *testing.T) {
	var m *Monitor
	assert.NotPanics(t, func() {
		m.UpdateHealthy("x", "y")
		m.Remove("x")
	})
	_, ok := m.Get("x")
	assert.False(t, ok)
}

func TestMonitor_SinceTracksLevelChanges(t *testing.T) {
	m := NewMonitor()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	down := NewUnhealthy("fifo", "open failed")
	down.Timestamp = t0
	m.Update("fifo", down)

	again := NewUnhealthy("fifo", "open failed again")
	again.Timestamp = t0.Add(time.Second)
	m.Update("fifo", again)

	s, _ := m.Get("fifo")
	assert.Equal(t, t0, s.Since, "same level keeps the original start")
	assert.Equal(t, t0.Add(time.Second), s.Timestamp)
	assert.Equal(t, "open failed again", s.Message)

	up := NewHealthy("fifo", "listening")
	up.Timestamp = t0.Add(2 * time.Second)
	m.Update("fifo", up)

	s, _ = m.Get("fifo")
	assert.Equal(t, t0.Add(2*time.Second), s.Since)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					m.UpdateHealthy("c", "ok")
				} else {
					_ = m.AggregateHealth("sys")
				}
			}
		}(i)
	}
	wg.Wait()
	_, ok := m.Get("c")
	assert.True(t, ok)
}
