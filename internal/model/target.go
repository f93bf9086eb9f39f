package model

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UnknownSize marks a ResolvedTarget whose size is not known in advance.
const UnknownSize int64 = -1

// IdentityETag is the IdentityHint algorithm for HTTP entity tags.
// An ETag identifies a version of a resource but is not a content hash.
const IdentityETag = "etag"

// IdentityHint is an optional content identity supplied by a crawler.
// Algorithm is either IdentityETag or a hash algorithm name such as "sha256".
type IdentityHint struct {
	Algorithm string `json:"algorithm,omitempty"`
	Value     string `json:"value,omitempty"`
}

// IsZero reports whether no identity is known.
func (h IdentityHint) IsZero() bool {
	return h.Algorithm == "" || h.Value == ""
}

// IsContentHash reports whether the hint is a content digest.
func (h IdentityHint) IsContentHash() bool {
	return !h.IsZero() && h.Algorithm != IdentityETag
}

// ResolvedTarget is one concrete file produced by a crawler.
// It is handed off to exactly one download task and never mutated afterwards.
type ResolvedTarget struct {
	// SourceURL is the input URL the target was resolved from.
	SourceURL *url.URL

	// FetchURL is the direct URL the file bytes are downloaded from.
	FetchURL *url.URL

	// RelPath is the suggested path relative to the download root.
	RelPath string

	// ExpectedSize is the file size in bytes, or UnknownSize.
	ExpectedSize int64

	// Identity is an optional content hash or ETag.
	Identity IdentityHint

	// ResourceID is a host-stable identifier of the file (for example an
	// album item id or an object key). Empty when the crawler has none.
	ResourceID string

	// Headers are extra request headers required by the host.
	Headers http.Header

	// Referrer is sent as the Referer header when set.
	Referrer string

	// LastModified is the remote modification time, if known.
	LastModified time.Time
}

// Host returns the lower-cased host of the fetch URL.
func (t ResolvedTarget) Host() string {
	if t.FetchURL == nil {
		return ""
	}
	return strings.ToLower(t.FetchURL.Hostname())
}

// SizeKnown reports whether ExpectedSize carries a real value.
func (t ResolvedTarget) SizeKnown() bool {
	return t.ExpectedSize >= 0
}

// DedupKey identifies content that has already been downloaded.
// Equal keys mean byte-identical files.
type DedupKey string

// String returns the key as a string.
func (k DedupKey) String() string { return string(k) }

// DownloadRecord is the persisted result of a completed download.
type DownloadRecord struct {
	Key         DedupKey  `json:"key"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	CompletedAt time.Time `json:"completed_at"`
	ContentHash string    `json:"content_hash,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	Host        string    `json:"host,omitempty"`
}

// PartialDownloadState is the resume bookkeeping of one in-flight download.
// It is owned by exactly one download task at a time.
type PartialDownloadState struct {
	TempPath     string `json:"temp_path"`
	BytesWritten int64  `json:"bytes_written"`
	ExpectedSize int64  `json:"expected_size"`
	ETag         string `json:"etag,omitempty"`
	FetchURL     string `json:"fetch_url"`
}

// Resumable reports whether the partial state can be continued against the
// given fetch URL, ETag and expected size.
func (p PartialDownloadState) Resumable(fetchURL, etag string, expected int64) bool {
	if p.BytesWritten <= 0 || p.FetchURL != fetchURL {
		return false
	}
	if p.ETag != "" && etag != "" && p.ETag != etag {
		return false
	}
	if expected >= 0 && p.ExpectedSize >= 0 && expected != p.ExpectedSize {
		return false
	}
	if expected >= 0 && p.BytesWritten >= expected {
		return false
	}
	return true
}

// RateBudget is a snapshot of one host's request budget.
type RateBudget struct {
	Host      string
	Limit     int
	Window    time.Duration
	Available int
	Waiting   int
}
