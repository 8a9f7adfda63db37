package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/gateway"
	innats "github.com/c360/thermstream/input/natsline"
	inpipe "github.com/c360/thermstream/input/pipe"
	"github.com/c360/thermstream/natsclient"
	"github.com/c360/thermstream/output/httppost"
	outpipe "github.com/c360/thermstream/output/pipe"
	"github.com/c360/thermstream/output/websocket"
	"github.com/c360/thermstream/pkg/tlsutil"
	"github.com/c360/thermstream/processor/anomaly"
	"github.com/c360/thermstream/sensor"
)

// Transport kinds
const (
	TransportFIFO = "fifo"
	TransportNATS = "nats"
)

// Sensor bus kinds
const (
	BusI2C       = "i2c"
	BusSimulated = "simulated"
)

// Log formats
const (
	LogFormatJSON   = "json"
	LogFormatText   = "text"
	LogFormatPretty = "pretty"
)

const redacted = "[REDACTED]"

// Config is the complete configuration shared by thermsensor and thermstream.
// Each binary reads the sections it needs.
type Config struct {
	Sensor     SensorConfig    `json:"sensor"`
	Transport  TransportConfig `json:"transport"`
	Thresholds ThresholdConfig `json:"thresholds"`
	Delivery   DeliveryConfig  `json:"delivery"`
	Status     StatusConfig    `json:"status"`
	Metrics    MetricsConfig   `json:"metrics"`
	Log        LogConfig       `json:"log"`
	// ShutdownTimeout bounds graceful shutdown of either binary.
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// SensorConfig drives the producer loop.
type SensorConfig struct {
	ID       string   `json:"id"`
	Bus      string   `json:"bus"`    // i2c or simulated
	Device   string   `json:"device"` // i2c-dev node, e.g. /dev/i2c-1
	Address  uint8    `json:"address"`
	WarmUp   Duration `json:"warm_up"`
	Interval Duration `json:"interval"`

	Simulator SimulatorConfig `json:"simulator"`
}

// SimulatorConfig shapes frames from the simulated bus.
type SimulatorConfig struct {
	Baseline    float64 `json:"baseline"`
	Amplitude   float64 `json:"amplitude"`
	CorruptRate float64 `json:"corrupt_rate"`
	Seed        int64   `json:"seed,omitempty"` // 0 seeds from the clock
}

// TransportConfig selects how lines travel from producer to consumer.
type TransportConfig struct {
	Kind string     `json:"kind"` // fifo or nats
	Pipe PipeConfig `json:"pipe"`
	NATS NATSConfig `json:"nats"`
}

// PipeConfig configures both ends of the named pipe.
type PipeConfig struct {
	Path         string   `json:"path"`
	ReopenDelay  Duration `json:"reopen_delay"`
	MaxLineBytes int      `json:"max_line_bytes"`
	WriteTimeout Duration `json:"write_timeout"`
}

// NATSConfig configures the NATS connection and subject.
type NATSConfig struct {
	URL            string   `json:"url"`
	Subject        string   `json:"subject"`
	QueueDepth     int      `json:"queue_depth"`
	Name           string   `json:"name,omitempty"`
	MaxReconnects  int      `json:"max_reconnects"`
	ReconnectWait  Duration `json:"reconnect_wait"`
	ConnectTimeout Duration `json:"connect_timeout"`
	PingInterval   Duration `json:"ping_interval"`
	DrainTimeout   Duration `json:"drain_timeout"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	Token          string   `json:"token,omitempty"`
	TLS            TLSFiles `json:"tls,omitempty"`
}

// TLSFiles names PEM files for a TLS client.
type TLSFiles struct {
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// Enabled reports whether any TLS file is configured.
func (t TLSFiles) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != "" || t.CAFile != ""
}

// ThresholdConfig is the normal operating range in degC.
type ThresholdConfig struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DeliveryConfig configures the HTTP delivery queue.
type DeliveryConfig struct {
	BaseURL         string            `json:"base_url"`
	TemperaturePath string            `json:"temperature_path"`
	AlertPath       string            `json:"alert_path"`
	Headers         map[string]string `json:"headers,omitempty"`
	Timeout         Duration          `json:"timeout"`
	RetryLimit      int               `json:"retry_limit"`
	RetryDelay      Duration          `json:"retry_delay"`
	MaxBuffered     int               `json:"max_buffered"`
	DrainInterval   Duration          `json:"drain_interval"`
	// TLS customises HTTPS to the collector, e.g. a private CA or mTLS.
	TLS tlsutil.ClientConfig `json:"tls,omitempty"`
}

// StatusConfig configures the consumer's HTTP status surface.
type StatusConfig struct {
	Enabled        bool            `json:"enabled"`
	Addr           string          `json:"addr"`
	EnableCORS     bool            `json:"enable_cors"`
	CORSOrigins    []string        `json:"cors_origins,omitempty"`
	MaxRequestSize int64           `json:"max_request_size"`
	ReadTimeout    Duration        `json:"read_timeout"`
	WriteTimeout   Duration        `json:"write_timeout"`
	IdleTimeout    Duration        `json:"idle_timeout"`
	AccessLog      bool            `json:"access_log"`
	SubmitRate     float64         `json:"submit_rate,omitempty"`
	SubmitBurst    int             `json:"submit_burst,omitempty"`
	Websocket      WebsocketConfig `json:"websocket"`
	// TLS serves the surface over HTTPS when a certificate is set.
	TLS tlsutil.ServerConfig `json:"tls,omitempty"`
}

// WebsocketConfig configures the live alert feed on /ws/alerts.
type WebsocketConfig struct {
	Enabled        bool     `json:"enabled"`
	PingInterval   Duration `json:"ping_interval"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// MetricsConfig configures the standalone metrics listener of thermsensor.
// thermstream serves /metrics on its status address instead.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// LogConfig configures logging. Command line flags take precedence.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	// File, when set, is the base name for dated log files in Dir.
	File string `json:"file,omitempty"`
	Dir  string `json:"dir,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	producer := sensor.DefaultProducerConfig()
	reader := inpipe.DefaultConfig()
	writer := outpipe.DefaultConfig()
	source := innats.DefaultConfig()
	queue := httppost.DefaultConfig()
	status := gateway.DefaultConfig()
	feed := websocket.DefaultConfig()
	thresholds := anomaly.DefaultThresholds()

	return &Config{
		Sensor: SensorConfig{
			ID:       producer.SensorID,
			Bus:      BusSimulated,
			Device:   "/dev/i2c-1",
			Address:  producer.Address,
			WarmUp:   Duration(producer.WarmUp),
			Interval: Duration(producer.Interval),
			Simulator: SimulatorConfig{
				Baseline:  24.0,
				Amplitude: 50.0,
			},
		},
		Transport: TransportConfig{
			Kind: TransportFIFO,
			Pipe: PipeConfig{
				Path:         reader.Path,
				ReopenDelay:  Duration(reader.ReopenDelay),
				MaxLineBytes: reader.MaxLineBytes,
				WriteTimeout: Duration(writer.WriteTimeout),
			},
			NATS: NATSConfig{
				URL:            "nats://localhost:4222",
				Subject:        source.Subject,
				QueueDepth:     source.QueueDepth,
				MaxReconnects:  -1,
				ReconnectWait:  Duration(2 * time.Second),
				ConnectTimeout: Duration(5 * time.Second),
				PingInterval:   Duration(30 * time.Second),
				DrainTimeout:   Duration(5 * time.Second),
			},
		},
		Thresholds: ThresholdConfig{Min: thresholds.Min, Max: thresholds.Max},
		Delivery: DeliveryConfig{
			BaseURL:         queue.BaseURL,
			TemperaturePath: queue.TemperaturePath,
			AlertPath:       queue.AlertPath,
			Headers:         map[string]string{},
			Timeout:         Duration(queue.Timeout),
			RetryLimit:      queue.RetryLimit,
			RetryDelay:      Duration(queue.RetryDelay),
		},
		Status: StatusConfig{
			Enabled:        true,
			Addr:           status.Addr,
			MaxRequestSize: status.MaxRequestSize,
			ReadTimeout:    Duration(status.ReadTimeout),
			WriteTimeout:   Duration(status.WriteTimeout),
			IdleTimeout:    Duration(status.IdleTimeout),
			AccessLog:      status.AccessLog,
			Websocket: WebsocketConfig{
				Enabled:      true,
				PingInterval: Duration(feed.PingInterval),
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatJSON,
			Dir:    "logs",
		},
		ShutdownTimeout: Duration(status.ShutdownTimeout),
	}
}

// Validate checks every section. Package-level rules are applied through the
// converted configs so both places agree.
func (c *Config) Validate() error {
	if err := c.validateSensor(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.Thresholds.Anomaly().Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "thresholds")
	}
	queue := c.Delivery.Queue()
	if err := queue.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "delivery")
	}
	if err := c.Delivery.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "delivery.tls")
	}
	if c.Status.Enabled {
		if c.Status.Addr == "" {
			return invalid("status.addr is required when the status server is enabled")
		}
		status := c.Status.Gateway(c.ShutdownTimeout)
		if err := status.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "status")
		}
		if c.Status.Websocket.Enabled && c.Status.Websocket.PingInterval <= 0 {
			return invalid("status.websocket.ping_interval must be positive")
		}
		if err := c.Status.TLS.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "status.tls")
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return invalid("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with /")
		}
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive")
	}
	return nil
}

func (c *Config) validateSensor() error {
	s := c.Sensor
	if strings.TrimSpace(s.ID) == "" {
		return invalid("sensor.id is required")
	}
	switch s.Bus {
	case BusSimulated:
	case BusI2C:
		if s.Device == "" {
			return invalid("sensor.device is required for the i2c bus")
		}
	default:
		return invalid(fmt.Sprintf("sensor.bus %q must be %q or %q", s.Bus, BusI2C, BusSimulated))
	}
	if s.Address == 0 || s.Address > 0x7f {
		return invalid(fmt.Sprintf("sensor.address 0x%02x is not a 7-bit address", s.Address))
	}
	if s.WarmUp < 0 {
		return invalid("sensor.warm_up cannot be negative")
	}
	if s.Interval <= 0 {
		return invalid("sensor.interval must be positive")
	}
	if s.Simulator.CorruptRate < 0 || s.Simulator.CorruptRate > 1 {
		return invalid("sensor.simulator.corrupt_rate must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateTransport() error {
	t := c.Transport
	switch t.Kind {
	case TransportFIFO:
		if err := t.PipeReader().Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "transport.pipe")
		}
		if t.Pipe.WriteTimeout <= 0 {
			return invalid("transport.pipe.write_timeout must be positive")
		}
	case TransportNATS:
		u, err := url.Parse(t.NATS.URL)
		if t.NATS.URL == "" || err != nil || u.Host == "" {
			return invalid(fmt.Sprintf("transport.nats.url %q is not a server URL", t.NATS.URL))
		}
		if err := t.NATSSource().Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "transport.nats")
		}
		if t.NATS.ReconnectWait < 0 || t.NATS.ConnectTimeout <= 0 ||
			t.NATS.PingInterval <= 0 || t.NATS.DrainTimeout <= 0 {
			return invalid("transport.nats timings must be positive")
		}
		if t.NATS.Token != "" && t.NATS.Username != "" {
			return invalid("transport.nats: use either token or username, not both")
		}
	default:
		return invalid(fmt.Sprintf("transport.kind %q must be %q or %q", t.Kind, TransportFIFO, TransportNATS))
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case LogFormatJSON, LogFormatText, LogFormatPretty:
	default:
		return invalid(fmt.Sprintf("log.format %q must be json, text or pretty", c.Log.Format))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check")
}

// Producer returns the sensor loop settings.
func (s SensorConfig) Producer() sensor.ProducerConfig {
	p := sensor.DefaultProducerConfig()
	p.SensorID = s.ID
	p.Address = s.Address
	p.WarmUp = s.WarmUp.Std()
	p.Interval = s.Interval.Std()
	return p
}

// SimulatorOptions returns options for sensor.NewSimulatedBus.
func (s SensorConfig) SimulatorOptions() []sensor.SimulatorOption {
	opts := []sensor.SimulatorOption{
		sensor.WithBaseline(s.Simulator.Baseline),
		sensor.WithAmplitude(s.Simulator.Amplitude),
		sensor.WithCorruptRate(s.Simulator.CorruptRate),
	}
	if s.Simulator.Seed != 0 {
		opts = append(opts, sensor.WithSeed(s.Simulator.Seed))
	}
	return opts
}

// PipeReader returns the consumer end of the FIFO.
func (t TransportConfig) PipeReader() inpipe.Config {
	return inpipe.Config{
		Path:         t.Pipe.Path,
		ReopenDelay:  t.Pipe.ReopenDelay.Std(),
		MaxLineBytes: t.Pipe.MaxLineBytes,
	}
}

// PipeWriter returns the producer end of the FIFO.
func (t TransportConfig) PipeWriter() outpipe.Config {
	return outpipe.Config{
		Path:         t.Pipe.Path,
		WriteTimeout: t.Pipe.WriteTimeout.Std(),
	}
}

// NATSSource returns the subscription settings.
func (t TransportConfig) NATSSource() innats.Config {
	return innats.Config{Subject: t.NATS.Subject, QueueDepth: t.NATS.QueueDepth}
}

// ClientOptions returns natsclient options for the connection settings.
// Logger and metrics options are added by the caller.
func (n NATSConfig) ClientOptions() []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Std()),
		natsclient.WithTimeout(n.ConnectTimeout.Std()),
		natsclient.WithPingInterval(n.PingInterval.Std()),
		natsclient.WithDrainTimeout(n.DrainTimeout.Std()),
	}
	if n.Name != "" {
		opts = append(opts, natsclient.WithName(n.Name))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS.Enabled() {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}
	return opts
}

// Anomaly returns the classifier thresholds.
func (t ThresholdConfig) Anomaly() anomaly.Thresholds {
	return anomaly.Thresholds{Min: t.Min, Max: t.Max}
}

// Queue returns the delivery queue settings.
func (d DeliveryConfig) Queue() httppost.Config {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	return httppost.Config{
		BaseURL:         d.BaseURL,
		TemperaturePath: d.TemperaturePath,
		AlertPath:       d.AlertPath,
		Headers:         headers,
		Timeout:         d.Timeout.Std(),
		RetryLimit:      d.RetryLimit,
		RetryDelay:      d.RetryDelay.Std(),
		MaxBuffered:     d.MaxBuffered,
		DrainInterval:   d.DrainInterval.Std(),
	}
}

// HTTPClient returns the client the delivery queue posts with.
func (d DeliveryConfig) HTTPClient() (*http.Client, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(d.TLS)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: d.Timeout.Std()}
	if tlsConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		client.Transport = transport
	}
	return client, nil
}

// Gateway returns the status server settings.
func (s StatusConfig) Gateway(shutdown Duration) gateway.Config {
	return gateway.Config{
		Addr:            s.Addr,
		EnableCORS:      s.EnableCORS,
		CORSOrigins:     s.CORSOrigins,
		MaxRequestSize:  s.MaxRequestSize,
		ReadTimeout:     s.ReadTimeout.Std(),
		WriteTimeout:    s.WriteTimeout.Std(),
		IdleTimeout:     s.IdleTimeout.Std(),
		ShutdownTimeout: shutdown.Std(),
		AccessLog:       s.AccessLog,
		SubmitRate:      s.SubmitRate,
		SubmitBurst:     s.SubmitBurst,
	}
}

// Hub returns the live alert feed settings.
func (w WebsocketConfig) Hub() websocket.Config {
	return websocket.Config{
		PingInterval:   w.PingInterval.Std(),
		AllowedOrigins: w.AllowedOrigins,
	}
}

// Redacted returns a copy safe to log, with credentials and header values
// replaced.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Transport.NATS.Password != "" {
		out.Transport.NATS.Password = redacted
	}
	if out.Transport.NATS.Token != "" {
		out.Transport.NATS.Token = redacted
	}
	if u, err := url.Parse(out.Transport.NATS.URL); err == nil && u.User != nil {
		u.User = url.User(redacted)
		out.Transport.NATS.URL = u.String()
	}
	if len(c.Delivery.Headers) > 0 {
		out.Delivery.Headers = make(map[string]string, len(c.Delivery.Headers))
		for k := range c.Delivery.Headers {
			out.Delivery.Headers[k] = redacted
		}
	}
	return &out
}

// String returns the redacted configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
