package crawler

import (
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/dropfetch/internal/transport"
)

// Kind classifies a resolution failure.
type Kind int

const (
	// KindUnsupported means no crawler can handle the URL.
	KindUnsupported Kind = iota
	// KindNotFound means the resource was removed or never existed.
	KindNotFound
	// KindAccessDenied means the host refused access.
	KindAccessDenied
	// KindTransient means the failure may go away when retried.
	KindTransient
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Sentinel errors matching each Kind with errors.Is.
var (
	ErrUnsupported  = errors.New("unsupported")
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrTransient    = errors.New("transient error")
)

// Error is the typed failure of a resolution.
type Error struct {
	Kind Kind
	URL  string
	Err  error

	// RetryAfter is the delay the host asked for, if any.
	RetryAfter time.Duration
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnsupported:
		return e.Kind == KindUnsupported
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrAccessDenied:
		return e.Kind == KindAccessDenied
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// Retryable reports whether the failure may be retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func newError(kind Kind, rawURL string, err error) *Error {
	return &Error{Kind: kind, URL: rawURL, Err: err}
}

// statusError converts a non-success HTTP status into an *Error.
func statusError(rawURL string, status int, retryAfter time.Duration) *Error {
	cause := fmt.Errorf("http status %d", status)
	switch transport.Classify(status) {
	case transport.ClassNotFound:
		return newError(KindNotFound, rawURL, cause)
	case transport.ClassAccessDenied:
		return newError(KindAccessDenied, rawURL, cause)
	case transport.ClassTransient:
		e := newError(KindTransient, rawURL, cause)
		e.RetryAfter = retryAfter
		return e
	default:
		return newError(KindUnsupported, rawURL, cause)
	}
}
