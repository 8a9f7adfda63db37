// Package main implements thermsensor, the producer side of the thermal
// sensor pipeline: it reads frames from the I2C sensor (or a simulator),
// encodes them as protocol lines and writes them to a FIFO or NATS subject.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/thermstream/config"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/natsclient"
	outnats "github.com/c360/thermstream/output/natsline"
	outpipe "github.com/c360/thermstream/output/pipe"
	"github.com/c360/thermstream/sensor"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "thermsensor"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cli, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger, closer, err := setupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if cli.Validate {
		fmt.Println(cfg.String())
		logger.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := openBus(cfg.Sensor)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("Sensor bus did not close cleanly", "error", err)
		}
	}()

	if cli.Once {
		return readOnce(ctx, cfg, bus, os.Stdout, logger)
	}

	logger.Info("Starting thermsensor",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"bus", cfg.Sensor.Bus,
		"transport", cfg.Transport.Kind)

	return runProducer(ctx, cfg, bus, logger)
}

// loadConfig layers the optional file, the environment and explicit flags.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, cli)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openBus(cfg config.SensorConfig) (sensor.Bus, error) {
	if cfg.Bus == config.BusI2C {
		bus, err := sensor.NewI2CBus(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("open sensor bus: %w", err)
		}
		return bus, nil
	}
	return sensor.NewSimulatedBus(cfg.SimulatorOptions()...), nil
}

// stdoutWriter prints lines for --once.
type stdoutWriter struct{ w io.Writer }

func (s stdoutWriter) WriteLine(_ context.Context, line string) error {
	_, err := fmt.Fprintln(s.w, line)
	return err
}

// readOnce skips the warm-up interval loop and runs a single cycle.
func readOnce(ctx context.Context, cfg *config.Config, bus sensor.Bus, out io.Writer, logger *slog.Logger) error {
	pcfg := cfg.Sensor.Producer()
	producer, err := sensor.NewProducer(sensor.ProducerDeps{
		Config: pcfg,
		Bus:    bus,
		Writer: stdoutWriter{w: out},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	timer := time.NewTimer(pcfg.WarmUp)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	if _, err := producer.Cycle(ctx); err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	return nil
}

func runProducer(ctx context.Context, cfg *config.Config, bus sensor.Bus, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	shutdownTimeout := cfg.ShutdownTimeout.Std()

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Metrics server started", "address", server.Address())
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("Metrics server did not stop cleanly", "error", err)
			}
		}()
	}

	writer, closeWriter, err := createWriter(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer closeWriter()

	producer, err := sensor.NewProducer(sensor.ProducerDeps{
		Config:  cfg.Sensor.Producer(),
		Bus:     bus,
		Writer:  writer,
		Logger:  logger,
		Metrics: registry.CoreMetrics(),
	})
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	if err := producer.Run(ctx); err != nil {
		return fmt.Errorf("run producer: %w", err)
	}

	logger.Info("thermsensor shutdown complete",
		"cycles", producer.Cycles(),
		"written", producer.Written())
	return nil
}

// createWriter builds the configured LineWriter and a func releasing it.
func createWriter(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (sensor.LineWriter, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		client, err := connectNATS(ctx, cfg.Transport.NATS, registry, logger)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("NATS client did not close cleanly", "error", err)
			}
		}

		writer, err := outnats.NewWriter(client, cfg.Transport.NATS.Subject)
		if err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("create NATS writer: %w", err)
		}
		return writer, func() {
			_ = writer.Close()
			closeClient()
		}, nil

	default:
		writer, err := outpipe.NewWriter(cfg.Transport.PipeWriter(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create FIFO writer: %w", err)
		}
		return writer, func() { _ = writer.Close() }, nil
	}
}

// connectNATS connects and waits for the connection to be ready.
func connectNATS(
	ctx context.Context,
	cfg config.NATSConfig,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := append(cfg.ClientOptions(),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry.CoreMetrics()),
	)
	if cfg.Name == "" {
		opts = append(opts, natsclient.WithName(appName))
	}
	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "subject", cfg.Subject)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}
