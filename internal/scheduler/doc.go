// Package scheduler orchestrates crawling and downloading.
//
// Run accepts input URLs, groups them by host budget and resolves each
// URL with the crawler its host profile selects. Targets are handed to
// the download executor as they are yielded, bounded by the download
// pool, so a slow host never holds up another host's queue.
//
// Every input URL and every target moves through a small state machine
// (see state.go). The scheduler owns the retry policy: transient crawl
// failures and network or corrupt download failures are retried with
// exponential backoff up to a bounded number of attempts. A disk failure
// affecting the destination root halts new downloads while in-flight
// ones drain.
package scheduler
