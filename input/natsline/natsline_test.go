package natsline

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/metric"
	tu "github.com/c360/thermstream/testutil"
)

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, string, func(context.Context, []byte)) error {
	return stderrors.New("nats: connection closed")
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) handle(_ context.Context, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func startSource(t *testing.T, deps Deps) (*Source, *lineCollector, context.CancelFunc, chan error) {
	t.Helper()
	src, err := NewSource(deps)
	require.NoError(t, err)

	collector := &lineCollector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, collector.handle) }()

	require.Eventually(t, func() bool {
		status, ok := deps.Monitor.Get(TransportName)
		return ok && status.IsHealthy()
	}, 2*time.Second, 10*time.Millisecond, "source never subscribed")
	return src, collector, cancel, done
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty subject", func(c *Config) { c.Subject = "" }, true},
		{"zero depth", func(c *Config) { c.QueueDepth = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewSource_RequiresClient(t *testing.T) {
	_, err := NewSource(Deps{Config: DefaultConfig()})
	assert.True(t, errors.IsInvalid(err))
}

func TestRun_DeliversLinesInOrder(t *testing.T) {
	client := tu.NewMockNATSClient()
	metrics := metric.NewMetrics()
	monitor := health.NewMonitor()

	src, collector, cancel, done := startSource(t, Deps{
		Config:  DefaultConfig(),
		Client:  client,
		Metrics: metrics,
		Monitor: monitor,
	})

	ctx := context.Background()
	require.NoError(t, client.Publish(ctx, DefaultSubject, []byte("first")))
	require.NoError(t, client.Publish(ctx, DefaultSubject, []byte("second\r\n\nthird\n")))
	require.NoError(t, client.Publish(ctx, "other.subject", []byte("ignored")))

	assert.Eventually(t, func() bool { return len(collector.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third"}, collector.snapshot())
	assert.Equal(t, Stats{Messages: 2, Lines: 3}, src.Stats())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.LinesReceived.WithLabelValues(TransportName)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CloseStops(t *testing.T) {
	src, _, cancel, done := startSource(t, Deps{
		Config:  DefaultConfig(),
		Client:  tu.NewMockNATSClient(),
		Monitor: health.NewMonitor(),
	})
	defer cancel()

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_TwiceIsInvalid(t *testing.T) {
	src, _, cancel, done := startSource(t, Deps{
		Config:  DefaultConfig(),
		Client:  tu.NewMockNATSClient(),
		Monitor: health.NewMonitor(),
	})

	err := src.Run(context.Background(), func(context.Context, string) {})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	assert.True(t, errors.IsInvalid(err))

	cancel()
	<-done
}

func TestRun_SubscribeFailure(t *testing.T) {
	monitor := health.NewMonitor()
	src, err := NewSource(Deps{Config: DefaultConfig(), Client: failingSubscriber{}, Monitor: monitor})
	require.NoError(t, err)

	err = src.Run(context.Background(), func(context.Context, string) {})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	status, ok := monitor.Get(TransportName)
	require.True(t, ok)
	assert.True(t, status.IsDegraded())
}

func TestRun_NilHandler(t *testing.T) {
	src, err := NewSource(Deps{Config: DefaultConfig(), Client: tu.NewMockNATSClient()})
	require.NoError(t, err)
	assert.True(t, errors.IsInvalid(src.Run(context.Background(), nil)))
}
