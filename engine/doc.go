// Package engine is the consumer-side pipeline driver.
//
// An Engine owns one line source (FIFO or NATS), the anomaly classifier, the
// per-sensor alert tracker and the delivery queue. For every line it:
//
//  1. decodes it with processor/parser (undecodable lines are logged,
//     counted and dropped);
//  2. classifies the sixteen pixel values against the configured thresholds;
//  3. submits a TemperatureRecord to the delivery queue;
//  4. feeds the result to the alert tracker and, only when the sensor's
//     state flips, submits an AlertRecord and broadcasts it on the live feed.
//
// Lines from the source and from the status API's manual submission go
// through the same HandleLine and are serialized, so alert edges are decided
// on one ordered stream per process.
//
// Run blocks until its context ends. It starts the delivery queue first and
// stops it after the source returns; retries still waiting are abandoned and
// buffered records are not persisted.
//
//	eng, err := engine.New(engine.Deps{
//	    Source:     reader,
//	    SourceName: pipe.TransportName,
//	    Classifier: classifier,
//	    Queue:      queue,
//	    Feed:       hub,
//	    Registry:   registry,
//	    Monitor:    monitor,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return eng.Run(ctx)
package engine
