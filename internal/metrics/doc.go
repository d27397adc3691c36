// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - REST request outcomes, latencies and retries
//   - Realtime connection state, reconnects and frame rates
//   - Event dispatch volume and listener panics
//   - Journal batch sizes, latencies and failures
//
// A Recorder satisfies the Metrics interfaces of the api, connection,
// dispatch and journal packages. All methods are safe on a nil *Recorder.
package metrics
