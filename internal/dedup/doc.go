// Package dedup derives DedupKeys from resolved targets and stores the
// records of completed downloads.
//
// Two Index implementations exist: Memory for a single run and SQLite for
// history that survives across runs. Both are safe for concurrent use, and
// recording an already-recorded key is a no-op.
package dedup
