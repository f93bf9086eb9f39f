package crawler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// pathFilter applies ignore and follow glob patterns to URL paths.
type pathFilter struct {
	ignore []string
	follow []string
}

func newPathFilter(ignore, follow []string) pathFilter {
	return pathFilter{ignore: ignore, follow: follow}
}

// allows reports whether u passes the filter. Ignore patterns are checked
// first; when follow patterns exist, one of them must match.
func (f pathFilter) allows(u *url.URL) bool {
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range f.ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(f.follow) == 0 {
		return true
	}
	for _, pattern := range f.follow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern matches path against a glob pattern. "/dir/*" matches
// everything below /dir, "*.ext" matches by extension, and patterns
// without a slash are also tried against the last path element.
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext, "*?[") {
		if strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext)) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
