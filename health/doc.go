// Package health aggregates component health for the thermstream status surface.
//
// Components report into a shared Monitor:
//
//	monitor.UpdateHealthy("transport", "fifo open")
//	monitor.Update("delivery", health.FromError("delivery", err, false))
//
// AggregateHealth folds the reports: any unhealthy component makes the system
// unhealthy, otherwise any degraded component makes it degraded. Messages
// built by FromError have collector URLs, IP addresses and credentials removed.
package health
