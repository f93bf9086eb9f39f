package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class is the failure class of an HTTP status code.
type Class int

const (
	// ClassOK is a success status.
	ClassOK Class = iota
	// ClassNotFound means the resource is gone (404, 410).
	ClassNotFound
	// ClassAccessDenied means the request is not authorized (401, 403, 451).
	ClassAccessDenied
	// ClassTransient may succeed when retried (408, 425, 429, 5xx).
	ClassTransient
	// ClassRejected is any other client error.
	ClassRejected
)

// String returns a human-readable representation of the class.
func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassNotFound:
		return "not_found"
	case ClassAccessDenied:
		return "access_denied"
	case ClassTransient:
		return "transient"
	case ClassRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps an HTTP status code to its failure class.
func Classify(status int) Class {
	switch {
	case status >= 200 && status < 400:
		return ClassOK
	case status == http.StatusNotFound, status == http.StatusGone:
		return ClassNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusUnavailableForLegalReasons:
		return ClassAccessDenied
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly,
		status == http.StatusTooManyRequests, status >= 500:
		return ClassTransient
	default:
		return ClassRejected
	}
}

// RetryAfter parses the Retry-After header of resp. It returns zero when
// the header is missing or unparsable.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// IsCancellation reports whether err comes from context cancellation or
// deadline expiry of the caller's context.
func IsCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// ContentRangeStart parses the first byte of "bytes 100-199/200", or -1.
func ContentRangeStart(v string) int64 {
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return -1
	}
	start, _, ok := strings.Cut(rest, "-")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// ContentRangeTotal parses the total of "bytes 100-199/200", or -1 when
// it is missing or "*".
func ContentRangeTotal(v string) int64 {
	_, total, ok := strings.Cut(v, "/")
	if !ok || strings.TrimSpace(total) == "*" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
