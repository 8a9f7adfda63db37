// Package main implements thermstream, the consumer side of the thermal
// sensor pipeline: it receives protocol lines, classifies readings, tracks
// per-sensor alert state and delivers records to the HTTP collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/thermstream/config"
	"github.com/c360/thermstream/engine"
	gwhttp "github.com/c360/thermstream/gateway/http"
	"github.com/c360/thermstream/health"
	innats "github.com/c360/thermstream/input/natsline"
	inpipe "github.com/c360/thermstream/input/pipe"
	"github.com/c360/thermstream/metric"
	"github.com/c360/thermstream/natsclient"
	"github.com/c360/thermstream/output/httppost"
	"github.com/c360/thermstream/output/websocket"
	"github.com/c360/thermstream/pkg/tlsutil"
	"github.com/c360/thermstream/processor/anomaly"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "thermstream"
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

	logger.Info("Starting thermstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"transport", cfg.Transport.Kind)
	logger.Debug("Effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runPipeline(ctx, cfg, logger)
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

func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	shutdownTimeout := cfg.ShutdownTimeout.Std()

	source, closeSource, err := createSource(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	classifier, err := anomaly.NewClassifier(cfg.Thresholds.Anomaly())
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	httpClient, err := cfg.Delivery.HTTPClient()
	if err != nil {
		return fmt.Errorf("configure collector client: %w", err)
	}
	queue, err := httppost.NewQueue(httppost.Deps{
		Config:   cfg.Delivery.Queue(),
		Registry: registry,
		Monitor:  monitor,
		Logger:   logger,
		Client:   httpClient,
	})
	if err != nil {
		return fmt.Errorf("create delivery queue: %w", err)
	}

	var (
		eng *engine.Engine
		hub *websocket.Hub
	)
	if cfg.Status.Enabled && cfg.Status.Websocket.Enabled {
		hub, err = websocket.NewHub(cfg.Status.Websocket.Hub(), func() []string { return eng.ActiveAlerts() },
			registry, logger)
		if err != nil {
			return fmt.Errorf("create alert feed: %w", err)
		}
	}

	deps := engine.Deps{
		Source:      source,
		SourceName:  cfg.Transport.Kind,
		Classifier:  classifier,
		Queue:       queue,
		Registry:    registry,
		Monitor:     monitor,
		Logger:      logger,
		StopTimeout: shutdownTimeout,
	}
	if hub != nil {
		deps.Feed = hub
	}
	eng, err = engine.New(deps)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if hub != nil {
		if err := hub.Start(ctx); err != nil {
			return fmt.Errorf("start alert feed: %w", err)
		}
		defer func() {
			if err := hub.Stop(shutdownTimeout); err != nil {
				logger.Warn("Alert feed did not stop cleanly", "error", err)
			}
		}()
	}

	var server *gwhttp.Server
	if cfg.Status.Enabled {
		var feed http.Handler
		if hub != nil {
			feed = hub
		}
		serverTLS, err := tlsutil.LoadServerTLSConfig(cfg.Status.TLS)
		if err != nil {
			return fmt.Errorf("configure status TLS: %w", err)
		}
		server, err = gwhttp.NewServer(gwhttp.Deps{
			Config:   cfg.Status.Gateway(cfg.ShutdownTimeout),
			Pipeline: eng,
			Monitor:  monitor,
			Registry: registry,
			Feed:     feed,
			TLS:      serverTLS,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("create status server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		defer func() {
			if err := server.Stop(shutdownTimeout); err != nil {
				logger.Warn("Status server did not stop cleanly", "error", err)
			}
		}()
	}

	// The status server already exposes /metrics.
	if cfg.Metrics.Enabled && !cfg.Status.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Stop(stopCtx); err != nil {
				logger.Warn("Metrics server did not stop cleanly", "error", err)
			}
		}()
	}

	logger.Info("thermstream started", "thresholds_min", cfg.Thresholds.Min, "thresholds_max", cfg.Thresholds.Max,
		"collector", cfg.Delivery.BaseURL)

	// A status server that dies takes the pipeline down with it.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		if err := eng.Run(gctx); err != nil {
			return fmt.Errorf("run pipeline: %w", err)
		}
		return nil
	})
	if server != nil {
		g.Go(func() error {
			if err := server.Wait(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	status := eng.Status()
	logger.Info("thermstream shutdown complete",
		"lines", status.Counters.Lines,
		"alerts", status.Counters.Alerts,
		"undelivered", status.Buffered)
	return nil
}

// createSource builds the configured LineSource and a func releasing it.
func createSource(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (engine.LineSource, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		client, err := connectNATS(ctx, cfg.Transport.NATS, registry, logger,
			natsclient.WithHealthChangeCallback(reportNATSHealth(monitor)))
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

		source, err := innats.NewSource(innats.Deps{
			Config:  cfg.Transport.NATSSource(),
			Client:  client,
			Metrics: registry.CoreMetrics(),
			Monitor: monitor,
			Logger:  logger,
		})
		if err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("create NATS source: %w", err)
		}
		return source, func() {
			_ = source.Close()
			closeClient()
		}, nil

	default:
		reader, err := inpipe.NewReader(inpipe.Deps{
			Config:  cfg.Transport.PipeReader(),
			Metrics: registry.CoreMetrics(),
			Monitor: monitor,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create FIFO reader: %w", err)
		}
		return reader, func() { _ = reader.Close() }, nil
	}
}

// reportNATSHealth mirrors connection loss and recovery into the transport's
// health entry, which the subscription also reports into.
func reportNATSHealth(monitor *health.Monitor) func(bool) {
	return func(healthy bool) {
		if healthy {
			monitor.UpdateHealthy(innats.TransportName, "connected")
			return
		}
		monitor.UpdateUnhealthy(innats.TransportName, "connection lost, reconnecting")
	}
}

// connectNATS connects and waits for the connection to be ready.
func connectNATS(
	ctx context.Context,
	cfg config.NATSConfig,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
	extra ...natsclient.ClientOption,
) (*natsclient.Client, error) {
	opts := append(cfg.ClientOptions(),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry.CoreMetrics()),
	)
	opts = append(opts, extra...)
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
