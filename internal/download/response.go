package download

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/nao1215/dropfetch/internal/transport"
)

// htmlExtensions may legitimately be served as HTML.
var htmlExtensions = map[string]bool{
	".html": true, ".htm": true, ".xhtml": true, ".shtml": true,
}

// requestError classifies an error returned by Doer.Do.
func requestError(ctx context.Context, path string, err error) *Error {
	if transport.IsCancellation(ctx, err) {
		return newError(KindCancelled, path, err)
	}
	return newError(KindNetwork, path, err)
}

// statusError converts a non-success response into an *Error.
func statusError(path string, resp *http.Response) *Error {
	cause := fmt.Errorf("http status %d", resp.StatusCode)
	if transport.Classify(resp.StatusCode) == transport.ClassTransient {
		e := newError(KindNetwork, path, cause)
		e.RetryAfter = transport.RetryAfter(resp)
		return e
	}
	return newError(KindRejected, path, cause)
}

// checkContentType rejects an HTML page served for a file whose
// extension says it is something else, which is how many hosts answer
// for removed files or expired links.
func checkContentType(dest, contentType string) error {
	if contentType == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil //nolint:nilerr // unparsable types are not judged
	}
	if mt != "text/html" && mt != "application/xhtml+xml" {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(dest))
	if ext == "" || htmlExtensions[ext] {
		return nil
	}
	return newError(KindRejected, dest, fmt.Errorf("server sent %s for a %s file", mt, ext))
}

// responseTotal returns the full resource size announced by resp, or -1.
func responseTotal(resp *http.Response) int64 {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		return transport.ContentRangeTotal(resp.Header.Get("Content-Range"))
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			return resp.ContentLength
		}
	}
	return -1
}
