// Package pool provides the two-level concurrency bound used for crawl and
// download work: a global limit on simultaneous operations and a per-host
// limit taken from the host profile.
package pool
