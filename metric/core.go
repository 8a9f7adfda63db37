package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every thermstream metric name.
const Namespace = "thermstream"

// Metrics contains the pipeline-level metrics shared by producer and consumer.
type Metrics struct {
	// Producer
	FramesRead       prometheus.Counter
	ChecksumFailures prometheus.Counter
	LinesWritten     *prometheus.CounterVec

	// Consumer transport
	LinesReceived       *prometheus.CounterVec
	ParseErrors         prometheus.Counter
	TransportConnected  *prometheus.GaugeVec
	TransportReconnects *prometheus.CounterVec

	// Classification and alerts
	Readings         *prometheus.CounterVec
	AlertTransitions *prometheus.CounterVec

	// Delivery
	DeliveryAttempts *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	DeliveryInFlight prometheus.Gauge
	DeliveryBuffered prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sensor",
			Name:      "frames_read_total",
			Help:      "Total number of raw frames read from the sensor",
		}),
		ChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sensor",
			Name:      "checksum_failures_total",
			Help:      "Frames whose checksum did not match (values still forwarded)",
		}),
		LinesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sensor",
			Name:      "lines_written_total",
			Help:      "Protocol lines handed to the transport, by result",
		}, []string{"result"}),

		LinesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "lines_received_total",
			Help:      "Complete protocol lines received by the consumer",
		}, []string{"transport"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "parse_errors_total",
			Help:      "Lines dropped because they could not be parsed",
		}),
		TransportConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Transport session state (0=closed, 1=open)",
		}, []string{"transport"}),
		TransportReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Transport sessions re-established after closure or error",
		}, []string{"transport"}),

		Readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "readings",
			Name:      "analyzed_total",
			Help:      "Readings classified, by status",
		}, []string{"status"}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Alert state transitions, by new state",
		}, []string{"state"}),

		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts to the collector, by record kind and result",
		}, []string{"kind", "result"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Duration of single delivery attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		DeliveryInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "delivery",
			Name:      "in_flight",
			Help:      "1 while a live delivery (and its drain) is running",
		}),
		DeliveryBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "delivery",
			Name:      "buffered_records",
			Help:      "Records waiting in the delivery buffer",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesRead,
		m.ChecksumFailures,
		m.LinesWritten,
		m.LinesReceived,
		m.ParseErrors,
		m.TransportConnected,
		m.TransportReconnects,
		m.Readings,
		m.AlertTransitions,
		m.DeliveryAttempts,
		m.DeliveryDuration,
		m.DeliveryInFlight,
		m.DeliveryBuffered,
	}
}

// RecordFrame counts a frame read and, when valid is false, a checksum failure.
func (m *Metrics) RecordFrame(valid bool) {
	m.FramesRead.Inc()
	if !valid {
		m.ChecksumFailures.Inc()
	}
}

// RecordLineWritten counts a producer write outcome ("written", "no_reader", "error").
func (m *Metrics) RecordLineWritten(result string) {
	m.LinesWritten.WithLabelValues(result).Inc()
}

// RecordLineReceived counts a complete line from transport.
func (m *Metrics) RecordLineReceived(transport string) {
	m.LinesReceived.WithLabelValues(transport).Inc()
}

// RecordParseError counts a dropped line.
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordTransportState updates the connected gauge for a transport.
func (m *Metrics) RecordTransportState(transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.TransportConnected.WithLabelValues(transport).Set(value)
}

// RecordTransportReconnect counts a reopened transport session.
func (m *Metrics) RecordTransportReconnect(transport string) {
	m.TransportReconnects.WithLabelValues(transport).Inc()
}

// RecordReading counts a classified reading.
func (m *Metrics) RecordReading(abnormal bool) {
	status := "normal"
	if abnormal {
		status = "abnormal"
	}
	m.Readings.WithLabelValues(status).Inc()
}

// RecordAlertTransition counts an alert edge.
func (m *Metrics) RecordAlertTransition(abnormal bool) {
	state := "normal"
	if abnormal {
		state = "abnormal"
	}
	m.AlertTransitions.WithLabelValues(state).Inc()
}

// RecordDelivery counts one delivery attempt and observes its duration.
func (m *Metrics) RecordDelivery(kind string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.DeliveryAttempts.WithLabelValues(kind, result).Inc()
	m.DeliveryDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDeliveryState updates the in-flight flag and buffered count gauges.
func (m *Metrics) RecordDeliveryState(inFlight bool, buffered int) {
	value := 0.0
	if inFlight {
		value = 1.0
	}
	m.DeliveryInFlight.Set(value)
	m.DeliveryBuffered.Set(float64(buffered))
}
