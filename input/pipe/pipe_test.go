//go:build unix

package pipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/health"
	"github.com/c360/thermstream/metric"
	outpipe "github.com/c360/thermstream/output/pipe"
	"github.com/c360/thermstream/pkg/fifo"
)

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

// openWriter attaches a writer once the reader holds the FIFO. A single
// non-blocking open must succeed from then on.
func openWriter(t *testing.T, r *Reader, path string) *os.File {
	t.Helper()
	require.Eventually(t, r.Connected, 2*time.Second, 5*time.Millisecond, "reader never opened the FIFO")
	f, err := fifo.OpenWriter(path)
	require.NoError(t, err)
	return f
}

func writeChunk(t *testing.T, f *os.File, chunk string) {
	t.Helper()
	_, err := f.Write([]byte(chunk))
	require.NoError(t, err)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "sensor_data_pipe")
	cfg.ReopenDelay = 20 * time.Millisecond
	return cfg
}

func startReader(t *testing.T, r *Reader, c *lineCollector) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, c.handle) }()
	return cancel, done
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing path", mutate: func(c *Config) { c.Path = "" }, wantErr: true},
		{name: "zero reopen delay", mutate: func(c *Config) { c.ReopenDelay = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewReader_CreatesFIFO(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewReader(Deps{Config: cfg})
	require.NoError(t, err)

	info, err := os.Stat(cfg.Path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)
}

func TestNewReader_RegularFileIsFatal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Path, []byte("x"), 0o600))

	_, err := NewReader(Deps{Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestReader_ReceivesLinesAcrossWriters(t *testing.T) {
	cfg := testConfig(t)
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	r, err := NewReader(Deps{Config: cfg, Metrics: registry.CoreMetrics(), Monitor: monitor})
	require.NoError(t, err)

	c := &lineCollector{}
	cancel, done := startReader(t, r, c)
	defer cancel()

	w := openWriter(t, r, cfg.Path)
	writeChunk(t, w, "first\nsec")
	writeChunk(t, w, "ond\n")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Close())

	// The read end stays open, so the next writer attaches straight away.
	w, err = fifo.OpenWriter(cfg.Path)
	require.NoError(t, err)
	writeChunk(t, w, "third\n")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Close())

	assert.Equal(t, []string{"first", "second", "third"}, c.snapshot())
	assert.True(t, r.Connected())
	assert.Zero(t, r.Stats().Reopens)
	assert.Equal(t, 3.0, testutil.ToFloat64(registry.CoreMetrics().LinesReceived.WithLabelValues(TransportName)))

	status, ok := monitor.Get(TransportName)
	require.True(t, ok)
	assert.True(t, status.IsHealthy())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, r.Connected())
}

func TestReader_ReceivesEveryProducerLine(t *testing.T) {
	const (
		lines        = 8
		producerTick = 300 * time.Millisecond
	)

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "sensor_data_pipe")
	r, err := NewReader(Deps{Config: cfg})
	require.NoError(t, err)

	c := &lineCollector{}
	cancel, _ := startReader(t, r, c)
	defer cancel()
	require.Eventually(t, r.Connected, 2*time.Second, 5*time.Millisecond)

	w, err := outpipe.NewWriter(outpipe.Config{Path: cfg.Path}, nil)
	require.NoError(t, err)

	want := make([]string, 0, lines)
	ticker := time.NewTicker(producerTick)
	defer ticker.Stop()
	for i := 0; i < lines; i++ {
		line := fmt.Sprintf("id: sensor_1, seq: %d", i)
		want = append(want, line)
		require.NoError(t, w.WriteLine(context.Background(), line+"\n"), "line %d", i)
		<-ticker.C
	}

	assert.Equal(t, int64(lines), w.Written())
	assert.Zero(t, w.Skipped())
	require.Eventually(t, func() bool { return len(c.snapshot()) == lines }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, c.snapshot())
	assert.Zero(t, r.Stats().Reopens)
}

func TestReader_PartialLineSurvivesWriterChange(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewReader(Deps{Config: cfg})
	require.NoError(t, err)

	c := &lineCollector{}
	cancel, _ := startReader(t, r, c)
	defer cancel()

	w := openWriter(t, r, cfg.Path)
	writeChunk(t, w, "id:s1, da")
	require.Eventually(t, func() bool { return r.Stats().PartialBytes == 9 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Close())

	w = openWriter(t, r, cfg.Path)
	defer w.Close()
	writeChunk(t, w, "te:x\n")

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "id:s1, date:x", c.snapshot()[0])
}

func TestReader_CloseStopsRun(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewReader(Deps{Config: cfg})
	require.NoError(t, err)

	c := &lineCollector{}
	_, done := startReader(t, r, c)

	w := openWriter(t, r, cfg.Path)
	defer w.Close()
	writeChunk(t, w, "hello\n")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Connected())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestReader_RunTwice(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewReader(Deps{Config: cfg})
	require.NoError(t, err)

	c := &lineCollector{}
	cancel, _ := startReader(t, r, c)
	defer cancel()

	require.Eventually(t, func() bool { return r.running.Load() }, time.Second, 5*time.Millisecond)
	err = r.Run(context.Background(), c.handle)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
