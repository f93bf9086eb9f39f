// Package report writes the summary of a download run.
//
// Three formats are provided:
//   - SimpleWriter: plain text for terminals and log files
//   - JSONWriter: the Summary as JSON for other tools
//   - MarkdownWriter: tables and a mermaid chart for sharing
//
// Writers implement the Writer interface and can be combined with
// MultiWriter.
package report
