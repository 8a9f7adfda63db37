package main

import (
	"io"
	"log/slog"

	"github.com/c360/thermstream/config"
	"github.com/c360/thermstream/pkg/logging"
)

func setupLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:   cfg.Level,
		Format:  cfg.Format,
		File:    cfg.File,
		Dir:     cfg.Dir,
		Service: appName,
		Version: Version,
	})
}

// applyFlags lets explicit flags win over file and environment settings.
func applyFlags(cfg *config.Config, cli *CLIConfig) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Log.File = cli.LogFile
	}
	if cli.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = config.Duration(cli.ShutdownTimeout)
	}
}
