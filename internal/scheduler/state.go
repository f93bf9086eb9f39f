package scheduler

import (
	"fmt"

	"github.com/nao1215/dropfetch/internal/model"
)

// URLEvent drives the URL state machine.
type URLEvent int

const (
	// URLStart begins a resolution attempt.
	URLStart URLEvent = iota
	// URLFinish ends resolution successfully.
	URLFinish
	// URLFail ends resolution with a terminal failure.
	URLFail
	// URLRetry requeues the URL after a retryable failure.
	URLRetry
	// URLCancel stops the URL.
	URLCancel
)

func (e URLEvent) String() string {
	switch e {
	case URLStart:
		return "start"
	case URLFinish:
		return "finish"
	case URLFail:
		return "fail"
	case URLRetry:
		return "retry"
	case URLCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// NextURLState returns the state reached from cur on ev.
//
//	Queued    --start-->  Resolving
//	Resolving --finish--> Resolved
//	Resolving --fail-->   CrawlFailed
//	Resolving --retry-->  Queued
//	Queued    --fail-->   CrawlFailed   (no crawler for the URL)
//	any non-terminal --cancel--> Cancelled
func NextURLState(cur model.URLState, ev URLEvent) (model.URLState, error) {
	if cur.IsTerminal() {
		return cur, fmt.Errorf("%w: %s on terminal url state %s", ErrIllegalTransition, ev, cur)
	}
	switch {
	case ev == URLCancel:
		return model.URLCancelled, nil
	case cur == model.URLQueued && ev == URLStart:
		return model.URLResolving, nil
	case cur == model.URLQueued && ev == URLFail:
		return model.URLCrawlFailed, nil
	case cur == model.URLResolving && ev == URLFinish:
		return model.URLResolved, nil
	case cur == model.URLResolving && ev == URLFail:
		return model.URLCrawlFailed, nil
	case cur == model.URLResolving && ev == URLRetry:
		return model.URLQueued, nil
	}
	return cur, fmt.Errorf("%w: %s in url state %s", ErrIllegalTransition, ev, cur)
}

// TargetEvent drives the target state machine.
type TargetEvent int

const (
	// TargetStart begins a download attempt.
	TargetStart TargetEvent = iota
	// TargetFinish completes the download.
	TargetFinish
	// TargetFail ends the download with a terminal failure.
	TargetFail
	// TargetRetry requeues the target after a retryable failure.
	TargetRetry
	// TargetDuplicate skips a target that is already downloaded or
	// dispatched.
	TargetDuplicate
	// TargetCancel stops the target.
	TargetCancel
)

func (e TargetEvent) String() string {
	switch e {
	case TargetStart:
		return "start"
	case TargetFinish:
		return "finish"
	case TargetFail:
		return "fail"
	case TargetRetry:
		return "retry"
	case TargetDuplicate:
		return "duplicate"
	case TargetCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// NextTargetState returns the state reached from cur on ev.
//
//	Queued      --start-->     Downloading
//	Queued      --duplicate--> Skipped
//	Queued      --fail-->      DownloadFailed   (dispatch halted)
//	Downloading --finish-->    Completed
//	Downloading --fail-->      DownloadFailed
//	Downloading --retry-->     Queued
//	any non-terminal --cancel--> Cancelled
func NextTargetState(cur model.TargetState, ev TargetEvent) (model.TargetState, error) {
	if cur.IsTerminal() {
		return cur, fmt.Errorf("%w: %s on terminal target state %s", ErrIllegalTransition, ev, cur)
	}
	switch {
	case ev == TargetCancel:
		return model.TargetCancelled, nil
	case cur == model.TargetQueued && ev == TargetStart:
		return model.TargetDownloading, nil
	case cur == model.TargetQueued && ev == TargetDuplicate:
		return model.TargetSkipped, nil
	case cur == model.TargetQueued && ev == TargetFail:
		return model.TargetDownloadFailed, nil
	case cur == model.TargetDownloading && ev == TargetFinish:
		return model.TargetCompleted, nil
	case cur == model.TargetDownloading && ev == TargetFail:
		return model.TargetDownloadFailed, nil
	case cur == model.TargetDownloading && ev == TargetRetry:
		return model.TargetQueued, nil
	}
	return cur, fmt.Errorf("%w: %s in target state %s", ErrIllegalTransition, ev, cur)
}
