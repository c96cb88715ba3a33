// Package progress provides the event primitives, non-blocking hub, and
// emitter interface that workers use to report item outcomes and run
// lifecycle. It batches events on a background goroutine and fans them out to
// pluggable sinks such as Prometheus collectors or the run-history store.
package progress
