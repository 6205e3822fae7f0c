// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the acquisition pipeline uses to report run checkpoints. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// Prometheus metrics, structured logs, or the run status repository polled by
// the API.
package progress
