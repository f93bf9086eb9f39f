package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/nao1215/dropfetch/internal/model"
)

var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))   // green
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))  // blue
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // grey
)

var symbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"skip":    "-",
	"pending": "◉",
	"retry":   "↻",
}

// Console prints one styled line per transition. Only transitions a user
// cares about are printed: resolution start and end, download start,
// retries and terminal target states. With Verbose every event is printed.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose}
}

// Emit implements Sink.
func (c *Console) Emit(e model.Event) {
	line, ok := c.format(e)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, line)
}

func (c *Console) format(e model.Event) (string, bool) {
	if e.Subject == model.SubjectURL {
		return c.formatURL(e)
	}
	return c.formatTarget(e)
}

func (c *Console) formatURL(e model.Event) (string, bool) {
	switch e.URLState {
	case model.URLResolving:
		if e.Attempt > 1 && !c.verbose {
			return "", false
		}
		return pendingStyle.Render(symbols["pending"]+" resolving ") + e.URL, true
	case model.URLResolved:
		return doneStyle.Render(symbols["pass"]+" resolved ") + e.URL, true
	case model.URLCrawlFailed:
		return failStyle.Render(symbols["fail"]+" crawl failed ") + e.URL + mutedStyle.Render(" "+reason(e)), true
	case model.URLQueued:
		if e.Attempt > 1 {
			return skipStyle.Render(symbols["retry"]+" retrying ") + e.URL + mutedStyle.Render(" "+reason(e)), true
		}
	case model.URLCancelled:
		if c.verbose {
			return mutedStyle.Render("cancelled " + e.URL), true
		}
	}
	return "", false
}

func (c *Console) formatTarget(e model.Event) (string, bool) {
	name := e.Path
	if name == "" {
		name = e.Target
	}
	switch e.TargetState {
	case model.TargetCompleted:
		return doneStyle.Render(symbols["pass"]+" ") + name + mutedStyle.Render(" "+humanBytes(e.Bytes)), true
	case model.TargetDownloadFailed:
		return failStyle.Render(symbols["fail"]+" ") + name + mutedStyle.Render(" "+reason(e)), true
	case model.TargetSkipped:
		return skipStyle.Render(symbols["skip"]+" skipped ") + name + mutedStyle.Render(" "+e.Reason), true
	case model.TargetQueued:
		if e.Attempt > 1 {
			return skipStyle.Render(symbols["retry"]+" retrying ") + name + mutedStyle.Render(" "+reason(e)), true
		}
	case model.TargetDownloading:
		if c.verbose {
			return pendingStyle.Render(symbols["pending"]+" downloading ") + name, true
		}
	case model.TargetCancelled:
		if c.verbose {
			return mutedStyle.Render("cancelled " + name), true
		}
	}
	if c.verbose {
		return mutedStyle.Render(e.State+" "+name), true
	}
	return "", false
}

func reason(e model.Event) string {
	if e.Kind == "" {
		return e.Reason
	}
	if e.Reason == "" {
		return "(" + e.Kind + ")"
	}
	return "(" + e.Kind + ") " + e.Reason
}

// humanBytes formats n with a binary unit.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
