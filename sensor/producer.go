package sensor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/pkg/timestamp"
	"github.com/c360/thermstream/processor/parser"
)

// LineWriter hands one protocol line to a transport.
type LineWriter interface {
	WriteLine(ctx context.Context, line string) error
}

// ProducerConfig holds the sensor loop settings.
type ProducerConfig struct {
	SensorID string
	Address  uint8
	Command  uint8
	// WarmUp is waited once before the first read so the sensor settles.
	WarmUp time.Duration
	// Interval is the pause between cycles.
	Interval time.Duration
}

// DefaultProducerConfig returns the timings the sensor is specified for.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		SensorID: "sensor_1",
		Address:  DefaultAddress,
		Command:  ReadCommand,
		WarmUp:   620 * time.Millisecond,
		Interval: 300 * time.Millisecond,
	}
}

// ProducerDeps holds runtime dependencies for the producer.
type ProducerDeps struct {
	Config  ProducerConfig
	Bus     Bus
	Writer  LineWriter
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional
	Now     func() time.Time
}

// Producer reads frames, encodes them as protocol lines and writes them out.
type Producer struct {
	config  ProducerConfig
	bus     Bus
	writer  LineWriter
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	cycles  uint64
	written uint64
	lastErr error
}

// NewProducer validates deps and builds a producer.
func NewProducer(deps ProducerDeps) (*Producer, error) {
	if deps.Bus == nil || deps.Writer == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Producer", "New", "bus and writer check")
	}
	cfg := deps.Config
	if cfg.SensorID == "" {
		return nil, errors.WrapFatal(fmt.Errorf("%w: sensor id", errors.ErrMissingConfig), "Producer", "New", "config check")
	}
	if cfg.Interval <= 0 {
		return nil, errors.WrapFatal(fmt.Errorf("%w: interval must be positive", errors.ErrInvalidConfig), "Producer", "New", "config check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = timestamp.Now
	}

	return &Producer{
		config:  cfg,
		bus:     deps.Bus,
		writer:  deps.Writer,
		logger:  logger.With("component", "sensor-producer", "sensor_id", cfg.SensorID),
		metrics: deps.Metrics,
		now:     now,
	}, nil
}

// Run waits out the warm-up delay, then runs a cycle every Interval until ctx ends.
func (p *Producer) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Producer", "Run", "start")
	}
	defer p.running.Store(false)

	p.logger.Info("Sensor producer starting",
		"address", fmt.Sprintf("0x%02X", p.config.Address),
		"warm_up", p.config.WarmUp,
		"interval", p.config.Interval)

	if !sleepCtx(ctx, p.config.WarmUp) {
		return nil
	}

	for {
		_, _ = p.Cycle(ctx)
		if !sleepCtx(ctx, p.config.Interval) {
			p.logger.Info("Sensor producer stopped", "cycles", p.Cycles())
			return nil
		}
	}
}

// Cycle performs one read-decode-encode-write pass and returns the line it
// produced. Bus and transport failures are logged, counted and returned; a
// checksum mismatch is logged and the line is still written.
func (p *Producer) Cycle(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.cycles++
	p.mu.Unlock()

	raw := make([]byte, FrameSize)
	if err := p.bus.ReadRegister(ctx, p.config.Address, p.config.Command, raw); err != nil {
		p.logger.Warn("Sensor read failed", "error", err)
		return "", p.fail(err)
	}

	frame, err := Decode(raw, p.config.Address)
	var csErr *ChecksumError
	switch {
	case stderrors.As(err, &csErr):
		p.logger.Warn("Frame checksum mismatch, forwarding values",
			"computed", fmt.Sprintf("0x%02X", csErr.Computed),
			"received", fmt.Sprintf("0x%02X", csErr.Received))
		p.recordFrame(false)
	case err != nil:
		p.logger.Warn("Frame decode failed", "error", err)
		return "", p.fail(err)
	default:
		p.recordFrame(true)
	}

	reading := message.Reading{
		SensorID:  p.config.SensorID,
		Timestamp: p.now(),
		Reference: frame.Reference,
		Pixels:    frame.Pixels,
	}

	line, err := parser.Encode(reading)
	if err != nil {
		p.logger.Error("Reading encode failed", "error", err)
		return "", p.fail(err)
	}

	if err := p.writer.WriteLine(ctx, line); err != nil {
		if stderrors.Is(err, errors.ErrNoReader) {
			p.logger.Debug("No reader on transport, skipping write")
			p.recordWrite("no_reader")
		} else {
			p.logger.Warn("Transport write failed", "error", err)
			p.recordWrite("error")
		}
		return line, p.fail(err)
	}

	p.recordWrite("written")
	p.mu.Lock()
	p.written++
	p.lastErr = nil
	p.mu.Unlock()
	return line, nil
}

// Cycles returns how many cycles have run.
func (p *Producer) Cycles() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

// Written returns how many lines reached the transport.
func (p *Producer) Written() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// LastError returns the error from the most recent failed cycle, or nil after
// a successful one.
func (p *Producer) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Producer) fail(err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return err
}

func (p *Producer) recordFrame(valid bool) {
	if p.metrics != nil {
		p.metrics.RecordFrame(valid)
	}
}

func (p *Producer) recordWrite(result string) {
	if p.metrics != nil {
		p.metrics.RecordLineWritten(result)
	}
}

// sleepCtx waits d or until ctx ends; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
