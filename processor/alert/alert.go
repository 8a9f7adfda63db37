// Package alert tracks per-sensor alert state and reports state changes.
package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/thermstream/message"
)

// Transition is emitted when a sensor changes between normal and abnormal.
type Transition struct {
	SensorID string
	Abnormal bool
	// Reason is the classification reason when entering the abnormal state,
	// or message.RecoveredReason when leaving it.
	Reason string
}

// State is the last known alert state of one sensor.
type State struct {
	SensorID  string    `json:"sensor_id"`
	Abnormal  bool      `json:"abnormal"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Tracker holds one state per sensor id. Unknown sensors start normal and
// entries are never evicted. Observe is meant to be called from a single
// pipeline goroutine; the lock lets status readers take snapshots.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]State
	now    func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]State),
		now:    time.Now,
	}
}

// Observe records the latest classification for sensorID. It returns a
// transition and true only when the state differs from the stored one.
func (t *Tracker) Observe(sensorID string, abnormal bool, reason string) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.states[sensorID]
	if prev.Abnormal == abnormal {
		return Transition{}, false
	}

	tr := Transition{SensorID: sensorID, Abnormal: abnormal, Reason: reason}
	if !abnormal {
		tr.Reason = message.RecoveredReason
	}

	t.states[sensorID] = State{
		SensorID:  sensorID,
		Abnormal:  abnormal,
		Reason:    tr.Reason,
		ChangedAt: t.now(),
	}
	return tr, true
}

// IsAbnormal reports the stored state for sensorID; unknown sensors are normal.
func (t *Tracker) IsAbnormal(sensorID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[sensorID].Abnormal
}

// Active returns the ids of sensors currently in the abnormal state, sorted.
func (t *Tracker) Active() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]string, 0, len(t.states))
	for id, s := range t.states {
		if s.Abnormal {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	return active
}

// Snapshot returns the state of every sensor seen in a transition, sorted by id.
func (t *Tracker) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}
