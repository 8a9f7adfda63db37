// Package metric provides the Prometheus registry and pipeline metrics for
// thermstream binaries.
//
// NewMetricsRegistry registers the pipeline Metrics (frames, checksum
// failures, transport sessions, readings, alert transitions, delivery
// attempts and buffer state) alongside the Go and process collectors.
// Components add their own collectors through RegisterCounter, RegisterGauge
// and RegisterHistogram, keyed "component.metric"; registering the same key
// twice returns an Invalid error.
//
// The consumer mounts Handler() on its status surface. The producer runs a
// standalone Server:
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(":9091", "/metrics", registry)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(ctx)
package metric
