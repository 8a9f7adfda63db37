// Package anomaly classifies a reading's pixel values against temperature thresholds.
package anomaly

import (
	"fmt"
	"math"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/message"
)

// Default thresholds in degrees Celsius.
const (
	DefaultMin = 20.0
	DefaultMax = 70.0
)

// Thresholds are the inclusive bounds of the normal range.
type Thresholds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// DefaultThresholds returns the 20..70 degC range.
func DefaultThresholds() Thresholds {
	return Thresholds{Min: DefaultMin, Max: DefaultMax}
}

// Validate checks that the bounds are finite and ordered.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.Min) || math.IsNaN(t.Max) || math.IsInf(t.Min, 0) || math.IsInf(t.Max, 0) {
		return errors.WrapInvalid(fmt.Errorf("%w: thresholds must be finite", errors.ErrInvalidConfig),
			"Thresholds", "Validate", "finite check")
	}
	if t.Min > t.Max {
		return errors.WrapInvalid(fmt.Errorf("%w: min %.1f above max %.1f", errors.ErrInvalidConfig, t.Min, t.Max),
			"Thresholds", "Validate", "order check")
	}
	return nil
}

// Analysis is the result of classifying one reading.
type Analysis struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Average  float64 `json:"average"`
	Abnormal bool    `json:"is_abnormal"`
	// Reason is empty when the reading is normal.
	Reason string `json:"reason,omitempty"`
}

// Summary converts the analysis into the form a TemperatureRecord carries.
func (a Analysis) Summary() message.Summary {
	return message.Summary{
		Min:      a.Min,
		Max:      a.Max,
		Average:  a.Average,
		Abnormal: a.Abnormal,
		Reason:   a.Reason,
	}
}

// Classifier holds the configured thresholds. It is stateless otherwise and
// safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier validates t and returns a classifier.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t}, nil
}

// Thresholds returns the configured bounds.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Analyze computes min, max and average of values and decides whether they
// fall outside the thresholds. The upper bound is checked first, so a
// reading breaching both is reported as too hot.
func (c *Classifier) Analyze(values []float64) (Analysis, error) {
	if len(values) == 0 {
		return Analysis{}, errors.WrapInvalid(fmt.Errorf("%w: no values", errors.ErrInvalidData),
			"Classifier", "Analyze", "input check")
	}

	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
	}

	a := Analysis{
		Min:     lo,
		Max:     hi,
		Average: sum / float64(len(values)),
	}

	switch {
	case hi > c.thresholds.Max:
		a.Abnormal = true
		a.Reason = fmt.Sprintf("high temperature: max %.1f exceeds threshold %.1f", hi, c.thresholds.Max)
	case lo < c.thresholds.Min:
		a.Abnormal = true
		a.Reason = fmt.Sprintf("low temperature: min %.1f below threshold %.1f", lo, c.thresholds.Min)
	}
	return a, nil
}

// AnalyzeReading classifies the pixel values of r.
func (c *Classifier) AnalyzeReading(r message.Reading) (Analysis, error) {
	return c.Analyze(r.Pixels[:])
}
