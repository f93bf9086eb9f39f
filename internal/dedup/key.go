package dedup

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/nao1215/dropfetch/internal/model"
)

// Key derives the DedupKey of t.
//
// A content hash supplied by the crawler wins: "hash:<algorithm>:<hex>".
// Otherwise the key combines the normalized host, the resource identifier,
// the expected size and the ETag: "res:<host>|<resource>|<size>|<etag>".
// The resource is ResourceID when the crawler provides one, else the URL
// path with its sorted query. Unknown sizes are written as "?".
func Key(t model.ResolvedTarget) model.DedupKey {
	if t.Identity.IsContentHash() {
		return model.DedupKey("hash:" + strings.ToLower(t.Identity.Algorithm) + ":" + strings.ToLower(t.Identity.Value))
	}

	var b strings.Builder
	b.WriteString("res:")
	b.WriteString(keyHost(t.FetchURL))
	b.WriteByte('|')
	if t.ResourceID != "" {
		b.WriteString(t.ResourceID)
	} else {
		b.WriteString(keyResource(t.FetchURL))
	}
	b.WriteByte('|')
	if t.SizeKnown() {
		b.WriteString(strconv.FormatInt(t.ExpectedSize, 10))
	} else {
		b.WriteByte('?')
	}
	b.WriteByte('|')
	if t.Identity.Algorithm == model.IdentityETag {
		b.WriteString(t.Identity.Value)
	}
	return model.DedupKey(b.String())
}

// keyHost returns the lowercase hostname without "www." and without the
// scheme's default port. Other ports are kept since they may serve
// different content.
func keyHost(u *url.URL) string {
	if u == nil {
		return ""
	}
	h := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	h = strings.TrimPrefix(h, "www.")
	port := u.Port()
	switch {
	case port == "":
	case port == "80" && u.Scheme == "http":
	case port == "443" && u.Scheme == "https":
	default:
		h += ":" + port
	}
	return h
}

// keyResource returns the escaped path plus the query with its parameters
// sorted. The fragment never reaches the server and is dropped.
func keyResource(u *url.URL) string {
	if u == nil {
		return ""
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery == "" {
		return p
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return p + "?" + u.RawQuery
	}
	return p + "?" + q.Encode()
}
