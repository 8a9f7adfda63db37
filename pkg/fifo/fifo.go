//go:build unix

// Package fifo creates and opens named pipes without blocking the caller.
package fifo

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/c360/thermstream/errors"
)

// Mode is the permission used when the FIFO is created.
const Mode = 0o666

// Ensure creates the FIFO at path if it does not exist. An existing FIFO is
// left alone; an existing non-FIFO file is an error. Failures are Fatal and
// match errors.ErrEndpointCreate.
func Ensure(path string) error {
	err := unix.Mkfifo(path, Mode)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, unix.EEXIST) {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrEndpointCreate, err), "fifo", "Ensure", "mkfifo "+path)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrEndpointCreate, statErr), "fifo", "Ensure", "stat "+path)
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		return errors.WrapFatal(fmt.Errorf("%w: %s exists and is not a FIFO", errors.ErrEndpointCreate, path),
			"fifo", "Ensure", "type check")
	}
	return nil
}

// OpenReader opens the FIFO for reading and keeps it open across writers.
// The descriptor is opened read-write, so the process holds a write reference
// of its own: the open never waits for a producer, Read never reports io.EOF
// when a producer closes, and writers opening with O_NONBLOCK always find a
// reader. The file is registered with the runtime poller, so Read parks the
// goroutine until data arrives and Close unblocks it.
func OpenReader(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.WrapTransient(err, "fifo", "OpenReader", "open "+path)
	}
	return f, nil
}

// OpenWriter opens the write end without blocking. With no reader attached
// the kernel refuses the open (ENXIO), reported as errors.ErrNoReader.
func OpenWriter(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if stderrors.Is(err, unix.ENXIO) {
			return nil, errors.WrapTransient(errors.ErrNoReader, "fifo", "OpenWriter", "open "+path)
		}
		return nil, errors.WrapTransient(err, "fifo", "OpenWriter", "open "+path)
	}
	return f, nil
}
