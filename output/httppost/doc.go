// Package httppost delivers temperature and alert records to the remote collector.
//
// # Delivery
//
// Queue.Submit never blocks on the network. Each record is posted as JSON to
// BaseURL plus the path for its kind (TemperaturePath or AlertPath) with an
// X-Record-ID header carrying the record id. Any 2xx response acknowledges
// the record; a transport error or any other status is a DeliveryError and
// is retried.
//
// A live record is attempted immediately and retried RetryLimit more times,
// RetryDelay apart. When all attempts fail it is appended to the in-memory
// buffer. When a live record succeeds the buffer is replayed head first, one
// attempt per record; the first replay failure puts that record back at the
// head and ends the pass, so buffered records keep their relative order.
//
// Only one live delivery runs at a time. Records submitted while it runs
// (including its replay) go straight to the buffer tail. A live record can
// therefore reach the collector before older buffered ones.
//
// # Configuration
//
//	cfg := httppost.DefaultConfig()
//	cfg.BaseURL = "http://collector:3000"
//	cfg.RetryLimit = 3
//	cfg.RetryDelay = time.Second
//	cfg.MaxBuffered = 10000        // 0 keeps the buffer unbounded
//	cfg.DrainInterval = 30 * time.Second
//
//	q, err := httppost.NewQueue(httppost.Deps{Config: cfg, Registry: registry, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if err := q.Start(ctx); err != nil {
//	    return err
//	}
//	defer q.Stop(5 * time.Second)
//
// MaxBuffered drops the oldest record when the buffer is full. DrainInterval
// lets an idle queue replay its buffer without waiting for a new record.
//
// # Shutdown
//
// Stop cancels any retry wait in progress; the abandoned record is buffered.
// The buffer lives in memory only and is lost when the process exits.
package httppost
