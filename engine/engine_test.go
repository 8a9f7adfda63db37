package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/output/httppost"
	"github.com/c360/thermstream/processor/anomaly"
	"github.com/c360/thermstream/processor/parser"
	tu "github.com/c360/thermstream/testutil"
)

// chanSource feeds lines from a channel until it is closed or ctx ends.
type chanSource struct {
	lines chan string
	err   error
}

func newChanSource() *chanSource {
	return &chanSource{lines: make(chan string, 16)}
}

func (s *chanSource) Run(ctx context.Context, handler func(context.Context, string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-s.lines:
			if !ok {
				return s.err
			}
			handler(ctx, line)
		}
	}
}

func (s *chanSource) Connected() bool { return true }

type fakeQueue struct {
	mu        sync.Mutex
	records   []message.Record
	submitErr error
	started   bool
	stopped   bool
}

func (q *fakeQueue) Submit(rec message.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		return q.submitErr
	}
	q.records = append(q.records, rec)
	return nil
}

func (q *fakeQueue) Start(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	return nil
}

func (q *fakeQueue) Stop(time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	return nil
}

func (q *fakeQueue) Stats() httppost.Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return httppost.Stats{Buffered: 2, InFlight: true}
}

func (q *fakeQueue) kinds() []message.Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]message.Kind, len(q.records))
	for i, r := range q.records {
		out[i] = r.Kind()
	}
	return out
}

type fakeFeed struct {
	mu     sync.Mutex
	alerts []*message.AlertRecord
}

func (f *fakeFeed) BroadcastAlert(rec *message.AlertRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, rec)
}

func line(t *testing.T, r message.Reading) string {
	t.Helper()
	s, err := parser.Encode(r)
	require.NoError(t, err)
	return s
}

func newEngine(t *testing.T, source LineSource, queue Queue, feed AlertFeed, registry *metric.MetricsRegistry) *Engine {
	t.Helper()
	classifier, err := anomaly.NewClassifier(anomaly.DefaultThresholds())
	require.NoError(t, err)
	e, err := New(Deps{
		Source:     source,
		SourceName: "test",
		Classifier: classifier,
		Queue:      queue,
		Feed:       feed,
		Registry:   registry,
		Monitor:    health.NewMonitor(),
	})
	require.NoError(t, err)
	return e
}

func TestNew_RequiresCollaborators(t *testing.T) {
	classifier, err := anomaly.NewClassifier(anomaly.DefaultThresholds())
	require.NoError(t, err)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no source", Deps{Classifier: classifier, Queue: &fakeQueue{}}},
		{"no classifier", Deps{Source: newChanSource(), Queue: &fakeQueue{}}},
		{"no queue", Deps{Source: newChanSource(), Classifier: classifier}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestHandleLine_NormalReading(t *testing.T) {
	queue := &fakeQueue{}
	feed := &fakeFeed{}
	e := newEngine(t, newChanSource(), queue, feed, nil)

	out, err := e.HandleLine(context.Background(), tu.SampleLine)
	require.NoError(t, err)

	assert.Equal(t, "sensor_1", out.Reading.SensorID)
	assert.False(t, out.Analysis.Abnormal)
	assert.Nil(t, out.Alert)
	require.NotNil(t, out.Record)
	assert.Equal(t, message.StatusNormal, out.Record.Status)
	assert.Equal(t, "2025-04-08", out.Record.Date)
	assert.InDelta(t, 21.0, out.Record.Min, 1e-9)
	assert.InDelta(t, 30.0, out.Record.Max, 1e-9)

	assert.Equal(t, []message.Kind{message.KindTemperature}, queue.kinds())
	assert.Empty(t, feed.alerts)
}

func TestHandleLine_AlertOnlyOnTransitions(t *testing.T) {
	queue := &fakeQueue{}
	feed := &fakeFeed{}
	e := newEngine(t, newChanSource(), queue, feed, nil)

	sequence := []bool{false, false, true, true, true, false}
	var alertAt []int
	for i, hot := range sequence {
		r := tu.Reading("sensor_1", 25)
		if hot {
			r = tu.HotReading("sensor_1", 25, 75)
		}
		out, err := e.HandleLine(context.Background(), line(t, r))
		require.NoError(t, err)
		if out.Alert != nil {
			alertAt = append(alertAt, i)
		}
	}

	assert.Equal(t, []int{2, 5}, alertAt)
	require.Len(t, feed.alerts, 2)
	assert.True(t, feed.alerts[0].Abnormal())
	assert.Contains(t, feed.alerts[0].AlertReason, "high temperature")
	assert.False(t, feed.alerts[1].Abnormal())
	assert.Equal(t, message.RecoveredReason, feed.alerts[1].AlertReason)

	// Temperature record first, then its alert.
	assert.Equal(t, []message.Kind{
		message.KindTemperature, message.KindTemperature,
		message.KindTemperature, message.KindAlert,
		message.KindTemperature, message.KindTemperature,
		message.KindTemperature, message.KindAlert,
	}, queue.kinds())

	status := e.Status()
	assert.Equal(t, int64(6), status.Counters.Accepted)
	assert.Equal(t, int64(3), status.Counters.Abnormal)
	assert.Equal(t, int64(2), status.Counters.Alerts)
	assert.Empty(t, status.ActiveAlerts)
}

func TestHandleLine_Rejected(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	queue := &fakeQueue{}
	e := newEngine(t, newChanSource(), queue, nil, registry)

	_, err := e.HandleLine(context.Background(), "id: sensor_1, garbage")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, queue.kinds())

	status := e.Status()
	assert.Equal(t, int64(1), status.Counters.Lines)
	assert.Equal(t, int64(1), status.Counters.Rejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().ParseErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.lines.WithLabelValues("rejected")))
}

func TestHandleLine_SubmitFailureStillTracksAlert(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	queue := &fakeQueue{submitErr: errors.WrapTransient(errors.ErrNotStarted, "delivery", "Submit", "state")}
	feed := &fakeFeed{}
	e := newEngine(t, newChanSource(), queue, feed, registry)

	out, err := e.HandleLine(context.Background(), line(t, tu.HotReading("sensor_9", 25, 80)))
	require.NoError(t, err)
	require.NotNil(t, out.Alert)
	assert.Len(t, feed.alerts, 1)
	assert.Equal(t, []string{"sensor_9"}, e.ActiveAlerts())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.submitErrors.WithLabelValues("temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.submitErrors.WithLabelValues("alert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.activeAlerts))
}

func TestRun_DrivesSourceAndStopsQueue(t *testing.T) {
	source := newChanSource()
	queue := &fakeQueue{}
	e := newEngine(t, source, queue, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	source.lines <- tu.SampleLine
	source.lines <- line(t, tu.HotReading("sensor_2", 25, 90))

	require.Eventually(t, func() bool { return len(queue.kinds()) == 3 }, 2*time.Second, 10*time.Millisecond)

	status := e.Status()
	assert.True(t, status.Running)
	assert.True(t, status.TransportConnected)
	assert.Equal(t, "test", status.Transport)
	assert.Equal(t, 2, status.Buffered)
	assert.True(t, status.InFlight)
	assert.Equal(t, []string{"sensor_2"}, status.ActiveAlerts)
	assert.False(t, status.StartedAt.IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	queue.mu.Lock()
	assert.True(t, queue.started)
	assert.True(t, queue.stopped)
	queue.mu.Unlock()
	assert.False(t, e.Status().Running)
}

func TestRun_SourceError(t *testing.T) {
	source := newChanSource()
	source.err = errors.WrapFatal(errors.ErrEndpointCreate, "fifo", "Ensure", "mkfifo")
	close(source.lines)

	queue := &fakeQueue{}
	e := newEngine(t, source, queue, nil, nil)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEndpointCreate)

	status, ok := e.monitor.Get(ComponentName)
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}

func TestRun_Twice(t *testing.T) {
	source := newChanSource()
	e := newEngine(t, source, &fakeQueue{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return e.Status().Running }, time.Second, 5*time.Millisecond)

	err := e.Run(ctx)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	cancel()
	<-done
}

func TestStatus_JSONShape(t *testing.T) {
	e := newEngine(t, newChanSource(), &fakeQueue{}, nil, nil)

	data, err := json.Marshal(e.Status())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{}, decoded["active_alerts"])
	assert.Contains(t, decoded, "buffered")
	assert.Contains(t, decoded, "in_flight")
	assert.Contains(t, decoded, "transport_connected")
	assert.Contains(t, decoded, "counters")
}

func TestPipeline_DeliversToCollector(t *testing.T) {
	collector := tu.NewCollector(t)
	registry := metric.NewMetricsRegistry()

	cfg := httppost.DefaultConfig()
	cfg.BaseURL = collector.URL()
	cfg.RetryDelay = 10 * time.Millisecond
	queue, err := httppost.NewQueue(httppost.Deps{Config: cfg, Registry: registry})
	require.NoError(t, err)

	source := newChanSource()
	e := newEngine(t, source, queue, nil, registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	source.lines <- line(t, tu.HotReading("sensor_1", 25, 72))

	require.Eventually(t, func() bool { return len(collector.Accepted()) == 2 }, 3*time.Second, 10*time.Millisecond)

	paths := map[string]bool{}
	for _, req := range collector.Accepted() {
		paths[req.Path] = true
		assert.NotEmpty(t, req.RecordID)
	}
	assert.True(t, paths[cfg.TemperaturePath])
	assert.True(t, paths[cfg.AlertPath])

	cancel()
	require.NoError(t, <-done)
}
