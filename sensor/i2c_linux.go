//go:build linux

package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/c360/thermstream/errors"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

// settleDelay is the pause between selecting the register and reading it.
const settleDelay = time.Millisecond

// I2CBus reads from a Linux i2c-dev character device. The device node is
// opened per transfer so an unplugged adapter recovers without a restart.
type I2CBus struct {
	path string
	mu   sync.Mutex
}

// NewI2CBus returns a bus for a device node such as /dev/i2c-1.
func NewI2CBus(path string) (*I2CBus, error) {
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return nil, errors.WrapFatal(err, "I2CBus", "New", fmt.Sprintf("access %s", path))
	}
	return &I2CBus{path: path}, nil
}

// ReadRegister implements Bus.
func (b *I2CBus) ReadRegister(ctx context.Context, addr, reg uint8, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fd, err := unix.Open(b.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.WrapTransient(err, "I2CBus", "ReadRegister", "device open")
	}
	defer unix.Close(fd)

	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		return errors.WrapTransient(err, "I2CBus", "ReadRegister", fmt.Sprintf("select device 0x%02X", addr))
	}
	if n, err := unix.Write(fd, []byte{reg}); err != nil || n != 1 {
		if err == nil {
			err = fmt.Errorf("wrote %d bytes", n)
		}
		return errors.WrapTransient(err, "I2CBus", "ReadRegister", "register select")
	}

	time.Sleep(settleDelay)

	n, err := unix.Read(fd, buf)
	if err != nil {
		return errors.WrapTransient(err, "I2CBus", "ReadRegister", "register read")
	}
	if n != len(buf) {
		return errors.WrapTransient(
			fmt.Errorf("short read: got %d bytes, want %d", n, len(buf)),
			"I2CBus", "ReadRegister", "register read")
	}
	return nil
}

// Close implements Bus. There is nothing held open between transfers.
func (b *I2CBus) Close() error {
	return nil
}
