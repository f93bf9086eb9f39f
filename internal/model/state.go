package model

// URLState is the scheduler state of one InputURL.
//
//	Queued -> Resolving -> Resolved | CrawlFailed
//
// Cancelled is entered when the run is cancelled before the URL reached
// another terminal state.
type URLState int

const (
	// URLQueued means the URL is waiting for its host queue.
	URLQueued URLState = iota
	// URLResolving means a crawler is producing targets for the URL.
	URLResolving
	// URLResolved means the crawler finished without error.
	URLResolved
	// URLCrawlFailed means resolution failed terminally.
	URLCrawlFailed
	// URLCancelled means the run was cancelled.
	URLCancelled
)

// String returns a human-readable representation of the state.
func (s URLState) String() string {
	switch s {
	case URLQueued:
		return "queued"
	case URLResolving:
		return "resolving"
	case URLResolved:
		return "resolved"
	case URLCrawlFailed:
		return "crawl_failed"
	case URLCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s URLState) IsTerminal() bool {
	return s == URLResolved || s == URLCrawlFailed || s == URLCancelled
}

// TargetState is the scheduler state of one ResolvedTarget.
//
//	Queued -> Downloading -> Completed | DownloadFailed | Skipped
//
// Queued may also move straight to Skipped when the target is a duplicate,
// and Downloading returns to Queued while a retry waits for its backoff.
type TargetState int

const (
	// TargetQueued means the target waits for a download slot.
	TargetQueued TargetState = iota
	// TargetDownloading means bytes are being transferred.
	TargetDownloading
	// TargetCompleted means the file is verified and recorded.
	TargetCompleted
	// TargetDownloadFailed means the download failed terminally.
	TargetDownloadFailed
	// TargetSkipped means the target was a duplicate.
	TargetSkipped
	// TargetCancelled means the run was cancelled.
	TargetCancelled
)

// String returns a human-readable representation of the state.
func (s TargetState) String() string {
	switch s {
	case TargetQueued:
		return "queued"
	case TargetDownloading:
		return "downloading"
	case TargetCompleted:
		return "completed"
	case TargetDownloadFailed:
		return "download_failed"
	case TargetSkipped:
		return "skipped"
	case TargetCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TargetState) IsTerminal() bool {
	switch s {
	case TargetCompleted, TargetDownloadFailed, TargetSkipped, TargetCancelled:
		return true
	default:
		return false
	}
}
