package model

import (
	"fmt"
	"net/url"
	"strings"
)

// InputURL is a raw user-supplied URL plus optional metadata.
// It is immutable once accepted by the scheduler.
type InputURL struct {
	// Raw is the URL exactly as the user supplied it.
	Raw string

	// URL is the parsed form of Raw.
	URL *url.URL

	// Filename overrides the file name suggested by the crawler.
	// Only honored when the URL resolves to a single target.
	Filename string

	// Folder is a destination sub folder relative to the download root.
	Folder string

	// Group is the input file section the URL was listed under.
	Group string
}

// ParseInputURL validates raw and returns an InputURL.
// Only absolute URLs with a host are accepted. A missing scheme defaults to https.
func ParseInputURL(raw string) (InputURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return InputURL{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return InputURL{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return InputURL{}, fmt.Errorf("%w: %s has no host", ErrInvalidURL, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)

	return InputURL{Raw: raw, URL: u}, nil
}

// Host returns the lower-cased hostname of the input URL without port.
func (in InputURL) Host() string {
	if in.URL == nil {
		return ""
	}
	return strings.ToLower(in.URL.Hostname())
}

// String returns the normalized URL.
func (in InputURL) String() string {
	if in.URL == nil {
		return in.Raw
	}
	return in.URL.String()
}
