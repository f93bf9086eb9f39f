// Package model defines the core data structures used throughout dropfetch.
//
// This package contains the following main types:
//   - InputURL: a user-supplied URL with optional naming metadata
//   - ResolvedTarget: one concrete file produced by a crawler
//   - DedupKey and DownloadRecord: identity and completion record of a file
//   - PartialDownloadState: bookkeeping for resumable downloads
//   - URLState / TargetState: scheduler state machines
//   - Event: state-transition notifications sent to progress sinks
//
// Models live in their own package so that crawler, download, dedup,
// scheduler, progress and report can share them without import cycles.
package model
