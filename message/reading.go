package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/thermstream/errors"
)

// PixelCount is the number of thermal pixels in one reading (4x4 array).
const PixelCount = 16

// Reading is one decoded sensor sample.
type Reading struct {
	SensorID  string
	Timestamp time.Time // millisecond precision
	// Reference is the sensor's internal (PTAT) temperature in degC.
	Reference float64
	Pixels    [PixelCount]float64
}

// Values returns the pixel temperatures as a slice.
func (r Reading) Values() []float64 {
	out := make([]float64, PixelCount)
	copy(out, r.Pixels[:])
	return out
}

// Validate checks the fields a reading must carry to travel the pipeline.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.SensorID) == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty sensor id", errors.ErrInvalidData),
			"Reading", "Validate", "sensor id check")
	}
	if strings.ContainsAny(r.SensorID, ",\n\r") {
		return errors.WrapInvalid(fmt.Errorf("%w: sensor id %q contains a separator", errors.ErrInvalidData, r.SensorID),
			"Reading", "Validate", "sensor id check")
	}
	if r.Timestamp.IsZero() {
		return errors.WrapInvalid(fmt.Errorf("%w: zero timestamp", errors.ErrInvalidData),
			"Reading", "Validate", "timestamp check")
	}
	return nil
}
