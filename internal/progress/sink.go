package progress

import (
	"log/slog"
	"sync"

	"github.com/nao1215/dropfetch/internal/model"
)

// Sink receives state transition events.
type Sink interface {
	Emit(e model.Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(model.Event) {}

// Multi forwards each event to every sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e model.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns the recorded events for which keep returns true.
func (r *Recorder) Filter(keep func(model.Event) bool) []model.Event {
	var out []model.Event
	for _, e := range r.Events() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes events to a logger. Failures are logged at warn level,
// terminal transitions at info and everything else at debug.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (l *LogSink) Emit(e model.Event) {
	attrs := []any{
		"subject", string(e.Subject),
		"state", e.State,
		"url", e.URL,
	}
	if e.Target != "" {
		attrs = append(attrs, "target", e.Target)
	}
	if e.Path != "" {
		attrs = append(attrs, "path", e.Path)
	}
	if e.Attempt > 0 {
		attrs = append(attrs, "attempt", e.Attempt)
	}
	if e.Kind != "" {
		attrs = append(attrs, "kind", e.Kind)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}

	switch {
	case e.URLState == model.URLCrawlFailed && e.Subject == model.SubjectURL,
		e.TargetState == model.TargetDownloadFailed && e.Subject == model.SubjectTarget:
		l.logger.Warn("transition", attrs...)
	case e.Terminal():
		l.logger.Info("transition", attrs...)
	default:
		l.logger.Debug("transition", attrs...)
	}
}
