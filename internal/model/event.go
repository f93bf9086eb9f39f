package model

import "time"

// Subject tells whether an Event is about an input URL or a target.
type Subject string

const (
	// SubjectURL marks URL state transitions.
	SubjectURL Subject = "url"
	// SubjectTarget marks target state transitions.
	SubjectTarget Subject = "target"
)

// Event is a state transition emitted by the scheduler to progress sinks.
type Event struct {
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	Subject Subject   `json:"subject"`

	// URL is the input URL the event belongs to.
	URL string `json:"url"`

	// Target is the fetch URL for target events.
	Target string `json:"target,omitempty"`

	// Path is the destination path for target events.
	Path string `json:"path,omitempty"`

	// Host is the host whose budgets the operation used.
	Host string `json:"host,omitempty"`

	URLState    URLState    `json:"-"`
	TargetState TargetState `json:"-"`

	// State is the string form of URLState or TargetState.
	State string `json:"state"`

	// Attempt is the 1-based attempt number of the operation.
	Attempt int `json:"attempt,omitempty"`

	// Kind is the failure kind for failed transitions.
	Kind string `json:"kind,omitempty"`

	// Reason is a human-readable cause for failed or skipped transitions.
	Reason string `json:"reason,omitempty"`

	// Bytes is the number of bytes written for completed targets.
	Bytes int64 `json:"bytes,omitempty"`
}

// Terminal reports whether the event moves its subject into a terminal state.
func (e Event) Terminal() bool {
	if e.Subject == SubjectURL {
		return e.URLState.IsTerminal()
	}
	return e.TargetState.IsTerminal()
}
