package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/thermstream/metric"
)

// bufferMetrics mirrors Statistics into Prometheus.
type bufferMetrics struct {
	writes    prometheus.Counter
	requeues  prometheus.Counter
	reads     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter
	size      prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:    counter("writes_total", "Items appended at the tail"),
		requeues:  counter("requeues_total", "Items re-inserted at the head"),
		reads:     counter("reads_total", "Items removed from the head"),
		overflows: counter("overflows_total", "Pushes that found the queue at capacity"),
		drops:     counter("drops_total", "Items discarded by the overflow policy"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of queued items",
		}),
	}

	counters := map[string]prometheus.Counter{
		"buffer_writes":    m.writes,
		"buffer_requeues":  m.requeues,
		"buffer_reads":     m.reads,
		"buffer_overflows": m.overflows,
		"buffer_drops":     m.drops,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite()    { m.writes.Inc() }
func (m *bufferMetrics) recordRequeue()  { m.requeues.Inc() }
func (m *bufferMetrics) recordRead()     { m.reads.Inc() }
func (m *bufferMetrics) recordOverflow() { m.overflows.Inc() }
func (m *bufferMetrics) recordDrop()     { m.drops.Inc() }

func (m *bufferMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}
