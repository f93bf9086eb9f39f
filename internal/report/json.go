package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/dropfetch/internal/model"
)

// JSONWriter outputs the summary as a single JSON document.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables indented output with the given prefix and indent.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonSummary adds derived fields to the summary document.
type jsonSummary struct {
	*model.Summary
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Write outputs the summary followed by a newline.
func (w *JSONWriter) Write(summary *model.Summary) (int, error) {
	doc := jsonSummary{
		Summary:         summary,
		Status:          status(summary),
		DurationSeconds: summary.Duration.Seconds(),
	}

	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(doc, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return 0, err
	}
	return w.output.Write(append(data, '\n'))
}
