package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().RecordFrame(false)
	registry.CoreMetrics().RecordDelivery("temperature", true, 10*time.Millisecond)

	names := gatheredNames(t, registry)
	assert.True(t, names["thermstream_sensor_frames_read_total"])
	assert.True(t, names["thermstream_sensor_checksum_failures_total"])
	assert.True(t, names["thermstream_delivery_attempts_total"])
	assert.True(t, names["go_goroutines"])
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics()

	m.RecordFrame(true)
	m.RecordFrame(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksumFailures))

	m.RecordReading(true)
	m.RecordReading(false)
	m.RecordReading(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Readings.WithLabelValues("abnormal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Readings.WithLabelValues("normal")))

	m.RecordDeliveryState(true, 7)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryInFlight))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DeliveryBuffered))

	m.RecordTransportState("fifo", true)
	m.RecordTransportReconnect("fifo")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportConnected.WithLabelValues("fifo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportReconnects.WithLabelValues("fifo")))
}

func TestMetricsRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "pipe_opens_total", Help: "opens"})
	require.NoError(t, registry.RegisterCounter("pipe", "opens", counter))

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "pipe_opens_other_total", Help: "opens"})
	err := registry.RegisterCounter("pipe", "opens", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_name", Help: "a"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_name", Help: "a"})

	require.NoError(t, registry.RegisterGauge("a", "g", g1))
	err := registry.RegisterGauge("b", "g", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "drain_seconds", Help: "drain"})
	require.NoError(t, registry.RegisterHistogram("queue", "drain", h))

	assert.True(t, registry.Unregister("queue", "drain"))
	assert.False(t, registry.Unregister("queue", "drain"))
	require.NoError(t, registry.RegisterHistogram("queue", "drain", h))
}

func TestRegistryHandler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordParseError()

	srv := httptest.NewServer(registry.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "thermstream_transport_parse_errors_total 1")
}

func TestServer_StartStop(t *testing.T) {
	registry := NewMetricsRegistry()
	srv := NewServer("127.0.0.1:0", "", registry)

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())

	resp, err := http.Get(srv.Address())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
	assert.Empty(t, srv.Address())
}
