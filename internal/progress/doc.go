// Package progress delivers scheduler state transitions to observers.
//
// The scheduler emits a model.Event for every transition of an input URL
// or a resolved target. A Sink receives them; sinks are called from many
// goroutines and must be safe for concurrent use. The package provides a
// console sink, a log sink, an in-memory recorder for tests and a fan-out.
package progress
