// Package metrics exports Prometheus counters for the conversation
// synchronization core. All methods are safe on a nil *Metrics so callers
// that run without metrics pass nil.
package metrics
