package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/thermstream/metric"
)

// engineMetrics holds metrics owned by the pipeline driver. Reading and
// alert counts live in metric.Metrics; these cover line handling itself.
type engineMetrics struct {
	lines        *prometheus.CounterVec // by result: accepted, rejected
	handleTime   prometheus.Histogram
	activeAlerts prometheus.Gauge
	submitErrors *prometheus.CounterVec // by kind
}

// newEngineMetrics registers engine metrics with registry. A nil registry
// disables them.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "lines_handled_total",
			Help:      "Lines handled by the pipeline, by result",
		}, []string{"result"}),

		handleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "line_handle_duration_seconds",
			Help:      "Time from decode to queue submission for one line",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		activeAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "active_alerts",
			Help:      "Sensors currently in the abnormal state",
		}),

		submitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "submit_errors_total",
			Help:      "Records the delivery queue refused, by kind",
		}, []string{"kind"}),
	}

	if err := registry.RegisterCounterVec("engine", "lines_handled", m.lines); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "line_handle_duration", m.handleTime); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "active_alerts", m.activeAlerts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "submit_errors", m.submitErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) recordLine(accepted bool, started time.Time) {
	if m == nil {
		return
	}
	if !accepted {
		m.lines.WithLabelValues("rejected").Inc()
		return
	}
	m.lines.WithLabelValues("accepted").Inc()
	m.handleTime.Observe(time.Since(started).Seconds())
}

func (m *engineMetrics) setActiveAlerts(n int) {
	if m != nil {
		m.activeAlerts.Set(float64(n))
	}
}

func (m *engineMetrics) recordSubmitError(kind string) {
	if m != nil {
		m.submitErrors.WithLabelValues(kind).Inc()
	}
}
