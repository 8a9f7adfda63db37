//go:build !unix

package fifo

import (
	"fmt"
	"os"

	"github.com/c360/thermstream/errors"
)

var errUnsupported = fmt.Errorf("%w: named pipes are not supported on this platform", errors.ErrEndpointCreate)

// Ensure always fails on this platform.
func Ensure(path string) error {
	return errors.WrapFatal(errUnsupported, "fifo", "Ensure", "mkfifo "+path)
}

// OpenReader always fails on this platform.
func OpenReader(path string) (*os.File, error) {
	return nil, errors.WrapFatal(errUnsupported, "fifo", "OpenReader", "open "+path)
}

// OpenWriter always fails on this platform.
func OpenWriter(path string) (*os.File, error) {
	return nil, errors.WrapFatal(errUnsupported, "fifo", "OpenWriter", "open "+path)
}
