package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/dropfetch/internal/model"
)

// MarkdownWriter outputs the summary as a Markdown document.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeOutcomes(md, summary)
	w.writeFailures(md, summary)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by dropfetch*")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *model.Summary) {
	md.H1("Download Report")
	md.PlainText("")

	started := "-"
	if !s.StartedAt.IsZero() {
		started = s.StartedAt.Format("2006-01-02 15:04:05 MST")
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + s.RunID + "`"},
			{"Started", started},
			{"Duration", s.Duration.Round(time.Millisecond).String()},
			{"Status", statusText(s)},
		},
	})
	md.PlainText("")
}

func statusText(s *model.Summary) string {
	switch status(s) {
	case "failed":
		return "❌ Failed"
	case "cancelled":
		return "⚠️ Cancelled"
	default:
		return "✅ Complete"
	}
}

func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, s *model.Summary) {
	md.H2("Outcomes")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "URLs", "Files"},
		Rows: [][]string{
			{"Total", strconv.Itoa(s.URLs), strconv.Itoa(s.Targets)},
			{"Done", strconv.Itoa(s.Resolved), strconv.Itoa(s.Completed)},
			{"Skipped", "-", strconv.Itoa(s.Skipped)},
			{"Failed", strconv.Itoa(s.CrawlFailed), strconv.Itoa(s.DownloadFailed)},
		},
	})
	md.PlainText("")
	md.PlainTextf("Downloaded **%s** in %d file(s).", humanBytes(s.Bytes), s.Completed)
	md.PlainText("")

	if s.Targets > 0 {
		w.writePieChart(md, s)
	}

	switch {
	case s.HasFailures():
		md.Warningf("%d URL(s) and %d file(s) failed.", s.CrawlFailed, s.DownloadFailed)
	case s.Cancelled > 0:
		md.Importantf("The run was cancelled; %d item(s) were not finished.", s.Cancelled)
	default:
		md.Tip("All files were downloaded or already present.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *model.Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("File Outcomes"),
		piechart.WithShowData(true),
	)

	slices := []struct {
		label string
		n     int
	}{
		{"Downloaded", s.Completed},
		{"Skipped", s.Skipped},
		{"Failed", s.DownloadFailed},
	}
	for _, sl := range slices {
		if sl.n > 0 {
			chart.LabelAndIntValue(sl.label, uint64(sl.n))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, s *model.Summary) {
	if len(s.Failures) == 0 {
		return
	}

	md.H2("Failures")
	md.PlainText("")

	rows := make([][]string, len(s.Failures))
	for i, f := range s.Failures {
		subject := f.URL
		if f.Subject == model.SubjectTarget && f.Target != "" {
			subject = f.Target
		}
		path := f.Path
		if path == "" {
			path = "-"
		}
		rows[i] = []string{
			string(f.Subject),
			"`" + truncateString(subject, 60) + "`",
			truncateString(path, 40),
			f.Kind,
			truncateString(f.Reason, 60),
			strconv.Itoa(f.Attempts),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Subject", "URL", "Path", "Kind", "Reason", "Attempts"},
		Rows:   rows,
	})
	md.PlainText("")
}

// truncateString truncates a string to maxLen bytes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
