package sensor

import (
	"context"
)

// Bus reads a register block from a device.
type Bus interface {
	// ReadRegister writes reg to the device at addr, then reads len(buf) bytes.
	// A short read is an error.
	ReadRegister(ctx context.Context, addr, reg uint8, buf []byte) error
	Close() error
}
