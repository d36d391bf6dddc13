// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the runner and the session use to report verification
// progress. The hub batches events on a background goroutine and fans them out
// to pluggable sinks such as push subscribers, Prometheus metrics or logs.
package progress
