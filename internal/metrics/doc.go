// Package metrics exposes run progress as Prometheus metrics.
//
// Metrics is a progress sink: registered on a scheduler it counts URL and
// target outcomes, failures by kind, completed bytes and the number of
// URLs and targets currently in flight. It also observes rate limiter
// waits through ObserveGrant.
package metrics
