// Package errors classifies failures across the thermstream pipeline.
//
// Every error belongs to one of three classes:
//
//   - Transient: transport hiccups, collector outages, timeouts. Retry or reopen.
//   - Invalid: corrupt frames, malformed lines, bad input. Log and drop.
//   - Fatal: unusable configuration or a transport endpoint that cannot be
//     created at startup. Stop the process.
//
// Wrapping follows the format
//
//	"component.method: action failed: %w"
//
// via Wrap, WrapTransient, WrapInvalid and WrapFatal. Classified errors keep
// working with errors.Is and errors.As through the wrap chain:
//
//	if err := reader.open(); err != nil {
//	    return errors.WrapTransient(err, "pipe", "open", "fifo open")
//	}
package errors
