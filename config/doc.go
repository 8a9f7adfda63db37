// Package config loads the configuration shared by thermsensor and thermstream.
//
// A Config is built in layers: Default values, then each file added to the
// Loader (JSON, or YAML by .yaml/.yml extension), then THERMSTREAM_*
// environment variables, then Validate. A layer only overrides the keys it
// sets, so a site file can change one threshold without restating the rest.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/thermstream/base.yaml")
//	loader.AddLayer("/etc/thermstream/site.json")
//	cfg, err := loader.Load()
//
// Durations are written as strings ("300ms", "1s", "14d") or integer
// nanoseconds. Each section converts to the config type of the package that
// consumes it, e.g. cfg.Delivery.Queue() for output/httppost and
// cfg.Transport.PipeReader() for input/pipe.
//
// Environment overrides:
//
//	THERMSTREAM_TRANSPORT_KIND       fifo | nats
//	THERMSTREAM_PIPE_PATH            FIFO path
//	THERMSTREAM_NATS_URL             NATS server URL
//	THERMSTREAM_NATS_SUBJECT         subject carrying protocol lines
//	THERMSTREAM_NATS_USERNAME/_PASSWORD/_TOKEN
//	THERMSTREAM_THRESHOLD_MIN/_MAX   normal range in degC
//	THERMSTREAM_DELIVERY_BASE_URL    collector base URL
//	THERMSTREAM_DELIVERY_RETRY_LIMIT/_RETRY_DELAY/_MAX_BUFFERED
//	THERMSTREAM_STATUS_ENABLED/_ADDR
//	THERMSTREAM_METRICS_ADDR
//	THERMSTREAM_SENSOR_ID/_BUS/_DEVICE/_INTERVAL
//	THERMSTREAM_LOG_LEVEL/_FORMAT/_FILE
//
// String and Redacted mask credentials and delivery header values so the
// effective configuration can be logged at startup.
package config
