package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/nao1215/dropfetch/internal/model"
)

// ErrNoURLs is returned when no usable URL was found.
var ErrNoURLs = errors.New("no urls found")

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

var linkPattern = regexp.MustCompile(`(?i)\b(?:https?|s3)://[^\s"'<>\[\]{}|\\^` + "`" + `]+`)

// Parse extracts input URLs from r in order of appearance. Repeated links
// are returned once. Links that do not parse as URLs are logged and
// skipped.
func Parse(r io.Reader) ([]model.InputURL, error) {
	var (
		out     []model.InputURL
		seen    = make(map[string]struct{})
		group   string
		comment bool
		lineNo  int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())

		if name, ok := groupHeader(line); ok {
			group = name
			continue
		}
		if line == "#" {
			comment = !comment
			continue
		}
		if comment || line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		for _, link := range Links(line) {
			in, err := model.ParseInputURL(link)
			if err != nil {
				slog.Debug("skipping input link", "line", lineNo, "link", link, "error", err)
				continue
			}
			key := in.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			in.Group = group
			in.Folder = group
			out = append(out, in)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input at line %d: %w", lineNo+1, err)
	}
	return out, nil
}

// ParseFile parses the input file at path.
func ParseFile(path string) ([]model.InputURL, error) {
	f, err := os.Open(path) //nolint:gosec // user supplied input file
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Links returns the links found in text, with trailing punctuation that
// usually ends a sentence removed.
func Links(text string) []string {
	matches := linkPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)")
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Merge concatenates input lists dropping repeated URLs. The first
// occurrence wins, so command line URLs keep precedence over the file.
func Merge(lists ...[]model.InputURL) []model.InputURL {
	var out []model.InputURL
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, in := range list {
			key := in.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, in)
		}
	}
	return out
}

// FromArgs parses command line URLs.
func FromArgs(args []string) ([]model.InputURL, error) {
	out := make([]model.InputURL, 0, len(args))
	for _, arg := range args {
		in, err := model.ParseInputURL(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func groupHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "---") && !strings.HasPrefix(line, "===") {
		return "", false
	}
	name := strings.TrimLeft(line, "-=")
	name = strings.TrimRight(name, "-=")
	return strings.TrimSpace(name), true
}
