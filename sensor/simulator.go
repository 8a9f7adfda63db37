package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/thermstream/message"
)

// SimulatedBus produces plausible frames for development machines without
// the sensor attached. A hot spot drifts slowly across the array; at times it
// pushes the hottest pixel past typical alert thresholds.
type SimulatedBus struct {
	mu          sync.Mutex
	rng         *rand.Rand
	start       time.Time
	baseline    float64
	amplitude   float64
	corruptRate float64
}

// SimulatorOption configures a SimulatedBus.
type SimulatorOption func(*SimulatedBus)

// WithBaseline sets the ambient temperature in degC.
func WithBaseline(c float64) SimulatorOption {
	return func(s *SimulatedBus) { s.baseline = c }
}

// WithAmplitude sets how far the hot spot rises above baseline.
func WithAmplitude(c float64) SimulatorOption {
	return func(s *SimulatedBus) { s.amplitude = c }
}

// WithCorruptRate sets the fraction (0..1) of frames returned with a bad checksum.
func WithCorruptRate(rate float64) SimulatorOption {
	return func(s *SimulatedBus) { s.corruptRate = rate }
}

// WithSeed makes the simulator deterministic.
func WithSeed(seed int64) SimulatorOption {
	return func(s *SimulatedBus) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewSimulatedBus returns a simulator with a 24 degC baseline.
func NewSimulatedBus(opts ...SimulatorOption) *SimulatedBus {
	s := &SimulatedBus{
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		start:     time.Now(),
		baseline:  24.0,
		amplitude: 50.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadRegister implements Bus.
func (s *SimulatedBus) ReadRegister(ctx context.Context, addr, reg uint8, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if reg != ReadCommand {
		return fmt.Errorf("simulated sensor: unsupported register 0x%02X", reg)
	}
	if len(buf) != FrameSize {
		return fmt.Errorf("simulated sensor: short read: want %d bytes, buffer is %d", FrameSize, len(buf))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	phase := time.Since(s.start).Seconds() / 20
	hot := int(phase*4) % message.PixelCount
	heat := s.amplitude * math.Max(0, math.Sin(phase))

	var f Frame
	f.Reference = s.baseline + 2.0
	for i := range f.Pixels {
		f.Pixels[i] = s.baseline + s.rng.Float64() - 0.5
	}
	f.Pixels[hot] += heat

	raw := Encode(f, addr)
	if s.corruptRate > 0 && s.rng.Float64() < s.corruptRate {
		raw[FrameSize-1] ^= 0xFF
	}
	copy(buf, raw)
	return nil
}

// Close implements Bus.
func (s *SimulatedBus) Close() error { return nil }
