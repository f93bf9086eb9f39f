// Package transport builds the HTTP clients used by crawlers and the
// download executor.
//
// Client applies the proxy, timeouts, cookie jar and per-host headers.
// Gate wraps an *http.Client so that every request first takes a
// concurrency slot and a rate-limit grant for its host; the slot is given
// back when the response body is closed.
package transport
