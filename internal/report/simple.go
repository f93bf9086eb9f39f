package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/dropfetch/internal/model"
)

// SimpleWriter outputs a plain text summary.
type SimpleWriter struct {
	baseWriter

	// verbose lists every failure instead of the first maxFailures.
	verbose bool
}

// maxFailures is the number of failures listed without WithVerbose.
const maxFailures = 20

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists all failures.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in human-readable form.
func (w *SimpleWriter) Write(summary *model.Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeCounts(&sb, summary)
	w.writeFailures(&sb, summary)

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *model.Summary) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("DROPFETCH RUN SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Run:      %s\n", s.RunID)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(sb, "Started:  %s\n", s.StartedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(sb, "Duration: %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(sb, "Status:   %s\n\n", strings.ToUpper(status(s)))
}

func (w *SimpleWriter) writeCounts(sb *strings.Builder, s *model.Summary) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\nURLS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  Total:     %d\n", s.URLs)
	fmt.Fprintf(sb, "  Resolved:  %d\n", s.Resolved)
	fmt.Fprintf(sb, "  Failed:    %d\n\n", s.CrawlFailed)

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\nFILES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  Total:      %d\n", s.Targets)
	fmt.Fprintf(sb, "  Downloaded: %d (%s)\n", s.Completed, humanBytes(s.Bytes))
	fmt.Fprintf(sb, "  Skipped:    %d\n", s.Skipped)
	fmt.Fprintf(sb, "  Failed:     %d\n", s.DownloadFailed)
	if s.Cancelled > 0 {
		fmt.Fprintf(sb, "  Cancelled:  %d\n", s.Cancelled)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailures(sb *strings.Builder, s *model.Summary) {
	if len(s.Failures) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\nFAILURES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	failures := s.Failures
	if !w.verbose && len(failures) > maxFailures {
		failures = failures[:maxFailures]
	}
	for _, f := range failures {
		subject := f.URL
		if f.Subject == model.SubjectTarget && f.Target != "" {
			subject = f.Target
		}
		fmt.Fprintf(sb, "  [%s] %s\n", f.Kind, subject)
		if f.Path != "" {
			fmt.Fprintf(sb, "    Path:     %s\n", f.Path)
		}
		fmt.Fprintf(sb, "    Reason:   %s\n", f.Reason)
		if f.Attempts > 1 {
			fmt.Fprintf(sb, "    Attempts: %d\n", f.Attempts)
		}
	}
	if rest := len(s.Failures) - len(failures); rest > 0 {
		fmt.Fprintf(sb, "  ... and %d more\n", rest)
	}
	sb.WriteString("\n")
}
