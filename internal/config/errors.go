package config

import "errors"

// Configuration validation errors returned by Config.Validate and File.Registry.
var (
	// ErrNoInput is returned when neither URLs nor an input file are given.
	ErrNoInput = errors.New("no input specified: provide URLs or use --input-file")

	// ErrNoDestination is returned when the destination root is empty.
	ErrNoDestination = errors.New("no destination directory specified")

	// ErrInvalidTempSuffix is returned when the temp suffix is empty.
	// An empty suffix would make the temp file and the final file the same path.
	ErrInvalidTempSuffix = errors.New("invalid temp suffix: must not be empty")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when a global concurrency limit is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidHostBudget is returned when the default host concurrency or
	// rate limit is not positive.
	ErrInvalidHostBudget = errors.New("invalid host budget: concurrency, rate limit and rate window must be positive")

	// ErrInvalidMaxAttempts is returned when the attempt bound is not positive.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts: must be positive")

	// ErrInvalidRetryDelay is returned when the backoff delays are negative
	// or the maximum is below the initial delay.
	ErrInvalidRetryDelay = errors.New("invalid retry delay: max must be >= initial and both non-negative")

	// ErrNegativeLimit is returned when a byte limit is negative.
	ErrNegativeLimit = errors.New("invalid limit: bandwidth, slow speed and free space must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrUnknownCrawler is returned when a host configuration names a crawler
	// that does not exist.
	ErrUnknownCrawler = errors.New("unknown crawler")

	// ErrInvalidSelector is returned when a CSS selector in the host
	// configuration does not compile.
	ErrInvalidSelector = errors.New("invalid css selector")
)
