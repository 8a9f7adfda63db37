// Package natsclient wraps a core NATS connection for the alternative line
// transport.
//
// The Client adds a circuit breaker around Connect: after a run of failed
// dials (default 5) it refuses further attempts for a backoff period that
// doubles each round up to a maximum. Once connected, reconnection is left to
// the NATS library (infinite reconnects by default); the client mirrors its
// disconnect and reconnect callbacks into the connection status, the
// transport_connected gauge and an optional health callback.
//
// Basic use:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Subscribe(ctx, "thermal.lines", func(ctx context.Context, data []byte) {
//	    // one callback at a time per subscription, in publish order
//	})
//
// Only core publish/subscribe is used. Messages published while no
// subscriber is attached are lost, which matches the FIFO transport.
//
// TestClient starts a NATS server in a container via testcontainers-go for
// integration tests (build tag integration).
package natsclient
