package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// CLIConfig holds command-line configuration. Empty values leave the
// configuration file and THERMSTREAM_* environment in charge.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	LogFile         string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	Once            bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config", os.Getenv("THERMSTREAM_CONFIG"),
		"Path to a JSON or YAML configuration file (env: THERMSTREAM_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", os.Getenv("THERMSTREAM_CONFIG"),
		"Path to a JSON or YAML configuration file (env: THERMSTREAM_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text, pretty")
	fs.StringVar(&cfg.LogFile, "log-file", "",
		"Write logs to <log dir>/<name>_YYYYMMDD.log, mirroring errors to stderr")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 0, "Graceful shutdown timeout")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration, print it and exit")
	fs.BoolVar(&cfg.Once, "once", false, "Read one frame, print its protocol line to stdout and exit")

	fs.Usage = func() { printDetailedHelp(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text", "pretty"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - thermal sensor producer

Reads the 16-pixel thermal array over I2C (or a simulated bus), encodes each
frame as a protocol line and writes it to the FIFO or a NATS subject.

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Read the sensor on /dev/i2c-1
  THERMSTREAM_SENSOR_BUS=i2c THERMSTREAM_SENSOR_DEVICE=/dev/i2c-1 %[1]s

  # Publish simulated frames on NATS
  THERMSTREAM_TRANSPORT_KIND=nats THERMSTREAM_NATS_URL=nats://broker:4222 %[1]s

  # Check the wiring with a single reading
  %[1]s --once --log-format=pretty

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
