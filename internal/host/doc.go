// Package host provides HostProfile, the per-host crawl and budget settings,
// and Registry, the read-only lookup from a hostname to its profile.
//
// A Registry is built once at startup and injected into the scheduler, the
// rate limiter, and the concurrency pools. Nothing in this package holds
// global state.
package host
