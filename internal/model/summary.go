package model

import "time"

// Failure describes one URL or target that ended in a failed state.
type Failure struct {
	Subject  Subject `json:"subject"`
	URL      string  `json:"url"`
	Target   string  `json:"target,omitempty"`
	Path     string  `json:"path,omitempty"`
	Kind     string  `json:"kind"`
	Reason   string  `json:"reason"`
	Attempts int     `json:"attempts,omitempty"`
}

// Summary is the outcome of one scheduler run.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	URLs        int `json:"urls"`
	Resolved    int `json:"resolved"`
	CrawlFailed int `json:"crawl_failed"`

	Targets        int `json:"targets"`
	Completed      int `json:"completed"`
	DownloadFailed int `json:"download_failed"`
	Skipped        int `json:"skipped"`

	// Cancelled counts URLs and targets stopped by cancellation.
	Cancelled int `json:"cancelled"`

	// Bytes is the total size of completed targets.
	Bytes int64 `json:"bytes"`

	Failures []Failure `json:"failures,omitempty"`
}

// HasFailures reports whether any URL or target failed.
func (s *Summary) HasFailures() bool {
	return s.CrawlFailed > 0 || s.DownloadFailed > 0
}

// Add counts a terminal event. Non-terminal events only count new
// subjects when they enter the queued state.
func (s *Summary) Add(e Event) {
	switch e.Subject {
	case SubjectURL:
		switch e.URLState {
		case URLQueued:
			if e.Attempt <= 1 {
				s.URLs++
			}
		case URLResolved:
			s.Resolved++
		case URLCrawlFailed:
			s.CrawlFailed++
			s.addFailure(e)
		case URLCancelled:
			s.Cancelled++
		case URLResolving:
		}
	case SubjectTarget:
		switch e.TargetState {
		case TargetQueued:
			if e.Attempt <= 1 {
				s.Targets++
			}
		case TargetCompleted:
			s.Completed++
			s.Bytes += e.Bytes
		case TargetDownloadFailed:
			s.DownloadFailed++
			s.addFailure(e)
		case TargetSkipped:
			s.Skipped++
		case TargetCancelled:
			s.Cancelled++
		case TargetDownloading:
		}
	}
}

func (s *Summary) addFailure(e Event) {
	s.Failures = append(s.Failures, Failure{
		Subject:  e.Subject,
		URL:      e.URL,
		Target:   e.Target,
		Path:     e.Path,
		Kind:     e.Kind,
		Reason:   e.Reason,
		Attempts: e.Attempt,
	})
}
