// Package crawler turns input URLs into resolved download targets.
//
// Every variant implements Crawler: Resolve returns a lazy sequence of
// model.ResolvedTarget values. A sequence is consumed once; the consumer
// may stop early, and cancelling the context ends it without an error.
// A non-nil error yielded by a sequence is always an *Error carrying one
// of the kinds Unsupported, NotFound, AccessDenied or Transient, and ends
// the sequence. Only Transient is retryable; retry policy belongs to the
// caller.
//
// # Variants
//
//   - Generic: treats the URL itself as a direct file link when the
//     response looks like a file. Used when no other variant matches.
//   - Gallery: paginated HTML albums, driven by CSS selectors from the
//     host profile.
//   - S3: lists a bucket prefix and yields presigned links.
//
// Registry picks the variant for an input URL from its host profile.
// Each network round trip of a variant goes through the caller-supplied
// gate, so crawling respects the host's rate limit and concurrency bound,
// and targets are yielded between round trips.
package crawler
