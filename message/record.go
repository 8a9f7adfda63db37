package message

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/pkg/timestamp"
)

// Kind tags an outbound record so delivery can route it to the right endpoint.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindAlert       Kind = "alert"
)

// Status values carried by records.
const (
	StatusNormal   = "normal"
	StatusAbnormal = "abnormal"
)

// RecoveredReason is the alert reason sent when a sensor returns to normal.
const RecoveredReason = "temperature returned to normal range"

// Record is anything the delivery queue can send to the collector.
type Record interface {
	// ID is a unique identifier, sent as X-Record-ID so the collector can
	// discard redelivered records.
	ID() string
	Kind() Kind
	Sensor() string
	Validate() error
}

// TemperatureRecord carries one reading and its analysis summary.
type TemperatureRecord struct {
	RecordID   string    `json:"id"`
	SensorID   string    `json:"sensor_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	ObservedAt int64     `json:"observed_at_ms"`
	PTAT       float64   `json:"ptat"`
	Values     []float64 `json:"values"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Average    float64   `json:"average"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
}

// Summary is the subset of an analysis a TemperatureRecord carries.
type Summary struct {
	Min, Max, Average float64
	Abnormal          bool
	Reason            string
}

// NewTemperatureRecord builds a record for r with a fresh ID.
func NewTemperatureRecord(r Reading, s Summary) *TemperatureRecord {
	status := StatusNormal
	if s.Abnormal {
		status = StatusAbnormal
	}
	return &TemperatureRecord{
		RecordID:   uuid.NewString(),
		SensorID:   r.SensorID,
		Date:       timestamp.FormatDate(r.Timestamp),
		Time:       timestamp.FormatClock(r.Timestamp),
		ObservedAt: timestamp.ToUnixMs(r.Timestamp),
		PTAT:       r.Reference,
		Values:     r.Values(),
		Min:        s.Min,
		Max:        s.Max,
		Average:    s.Average,
		Status:     status,
		Reason:     s.Reason,
	}
}

func (t *TemperatureRecord) ID() string     { return t.RecordID }
func (t *TemperatureRecord) Kind() Kind     { return KindTemperature }
func (t *TemperatureRecord) Sensor() string { return t.SensorID }

// Validate checks the record is complete enough to send.
func (t *TemperatureRecord) Validate() error {
	if t.RecordID == "" || t.SensorID == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: missing id or sensor_id", errors.ErrInvalidData),
			"TemperatureRecord", "Validate", "identity check")
	}
	if len(t.Values) != PixelCount {
		return errors.WrapInvalid(fmt.Errorf("%w: %d values, want %d", errors.ErrInvalidData, len(t.Values), PixelCount),
			"TemperatureRecord", "Validate", "values check")
	}
	return nil
}

// AlertRecord announces a per-sensor state transition.
type AlertRecord struct {
	RecordID    string `json:"id"`
	SensorID    string `json:"sensor_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	ObservedAt  int64  `json:"observed_at_ms"`
	Status      string `json:"status"`
	AlertReason string `json:"alert_reason"`
}

// NewAlertRecord builds a transition record. When abnormal is false the
// reason is replaced by RecoveredReason.
func NewAlertRecord(r Reading, abnormal bool, reason string) *AlertRecord {
	status := StatusAbnormal
	if !abnormal {
		status = StatusNormal
		reason = RecoveredReason
	}
	return &AlertRecord{
		RecordID:    uuid.NewString(),
		SensorID:    r.SensorID,
		Date:        timestamp.FormatDate(r.Timestamp),
		Time:        timestamp.FormatClock(r.Timestamp),
		ObservedAt:  timestamp.ToUnixMs(r.Timestamp),
		Status:      status,
		AlertReason: reason,
	}
}

func (a *AlertRecord) ID() string     { return a.RecordID }
func (a *AlertRecord) Kind() Kind     { return KindAlert }
func (a *AlertRecord) Sensor() string { return a.SensorID }

// Abnormal reports whether this record opens an alert.
func (a *AlertRecord) Abnormal() bool { return a.Status == StatusAbnormal }

// Validate checks the record is complete enough to send.
func (a *AlertRecord) Validate() error {
	if a.RecordID == "" || a.SensorID == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: missing id or sensor_id", errors.ErrInvalidData),
			"AlertRecord", "Validate", "identity check")
	}
	if a.Status != StatusNormal && a.Status != StatusAbnormal {
		return errors.WrapInvalid(fmt.Errorf("%w: status %q", errors.ErrInvalidData, a.Status),
			"AlertRecord", "Validate", "status check")
	}
	return nil
}
