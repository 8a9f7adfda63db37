// Package buffer provides Queue, a thread-safe generic FIFO with head
// re-insertion, used by the delivery queue to hold undelivered records.
//
// A queue created with capacity 0 grows without bound. A positive capacity
// applies an OverflowPolicy when full:
//
//   - DropOldest (default): evict the head to admit the new item
//   - DropNewest: discard the incoming item
//
// PushFront returns a popped item to the head after a failed hand-off, so
// FIFO order survives a partial drain:
//
//	item, ok := q.PopFront()
//	if ok && send(item) != nil {
//	    _ = q.PushFront(item)
//	}
//
// Statistics are always collected. WithMetrics additionally exports them to a
// metric.MetricsRegistry under the "thermstream_buffer_*" names, labelled by
// component.
package buffer
