//go:build !linux

package sensor

import (
	"context"
	"fmt"

	"github.com/c360/thermstream/errors"
)

// I2CBus is only available on Linux.
type I2CBus struct{}

// NewI2CBus always fails on this platform; use SimulatedBus instead.
func NewI2CBus(path string) (*I2CBus, error) {
	return nil, errors.WrapFatal(fmt.Errorf("i2c-dev not supported on this platform"),
		"I2CBus", "New", fmt.Sprintf("open %s", path))
}

func (b *I2CBus) ReadRegister(context.Context, uint8, uint8, []byte) error {
	return errors.ErrNotStarted
}

func (b *I2CBus) Close() error { return nil }
