// Package logging builds the slog loggers used by the thermstream binaries.
//
// Output goes to stdout in json, text or pretty (tint) form. When a log file
// is configured, records are written to <dir>/<file>_YYYYMMDD.log instead and
// records at error level or above are mirrored to stderr so operators still
// see failures on the console.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Formats
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatPretty = "pretty"
)

// Options configures New.
type Options struct {
	Level   string
	Format  string
	File    string // base name of the dated log file; empty logs to Stdout
	Dir     string
	Service string
	Version string

	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
	Now    func() time.Time
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileName returns the dated file name for base on day t.
func FileName(base string, t time.Time) string {
	base = strings.TrimSuffix(base, ".log")
	return fmt.Sprintf("%s_%s.log", base, t.Format("20060102"))
}

// New returns a logger tagged with service, version and pid. The returned
// closer releases the log file, if any; it is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	level := ParseLevel(opts.Level)

	var (
		handler slog.Handler
		closer  io.Closer = nopCloser{}
	)
	if opts.File == "" {
		handler = newHandler(opts.Stdout, opts.Format, level, isTerminal(opts.Stdout))
	} else {
		f, err := openLogFile(opts.Dir, FileName(opts.File, opts.Now()))
		if err != nil {
			return nil, nil, err
		}
		closer = f
		handler = &teeHandler{
			primary: newHandler(f, opts.Format, level, false),
			mirror:  newHandler(opts.Stderr, opts.Format, slog.LevelError, isTerminal(opts.Stderr)),
		}
	}

	logger := slog.New(handler).With(
		"service", opts.Service,
		"version", opts.Version,
		"pid", os.Getpid(),
	)
	return logger, closer, nil
}

func newHandler(w io.Writer, format string, level slog.Level, color bool) slog.Handler {
	addSource := level == slog.LevelDebug
	switch strings.ToLower(format) {
	case FormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource})
	case FormatPretty:
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  addSource,
			TimeFormat: "15:04:05.000",
			NoColor:    !color,
		})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource})
	}
}

func openLogFile(dir, name string) (*os.File, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// teeHandler writes every record to primary and the ones mirror accepts to
// mirror.
type teeHandler struct {
	primary slog.Handler
	mirror  slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.mirror.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.primary.Enabled(ctx, r.Level) {
		err = h.primary.Handle(ctx, r.Clone())
	}
	if h.mirror.Enabled(ctx, r.Level) {
		if mErr := h.mirror.Handle(ctx, r.Clone()); err == nil {
			err = mErr
		}
	}
	return err
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), mirror: h.mirror.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), mirror: h.mirror.WithGroup(name)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
