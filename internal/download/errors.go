package download

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a download failure.
type Kind int

const (
	// KindNetwork is a connection, timeout or server error. Retryable.
	KindNetwork Kind = iota
	// KindCorrupt means the received bytes failed size or identity checks.
	KindCorrupt
	// KindDisk is a local file system failure.
	KindDisk
	// KindCancelled means the context was cancelled.
	KindCancelled
	// KindRejected means the server refused to serve the file.
	KindRejected
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindCorrupt:
		return "corrupt"
	case KindDisk:
		return "disk"
	case KindCancelled:
		return "cancelled"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Sentinel errors matching each Kind with errors.Is.
var (
	ErrNetwork   = errors.New("network error")
	ErrCorrupt   = errors.New("corrupt download")
	ErrDisk      = errors.New("disk error")
	ErrCancelled = errors.New("download cancelled")
	ErrRejected  = errors.New("download rejected")
)

// ErrNoRoot is returned by NewExecutor without a destination root.
var ErrNoRoot = errors.New("destination root is required")

// errTooSlow aborts a transfer below the slow speed threshold.
var errTooSlow = errors.New("transfer below minimum speed")

// Error is the typed failure of a download.
type Error struct {
	Kind Kind
	Path string
	Err  error

	// RootLevel marks a disk failure affecting the whole destination
	// root, such as no space left. Further downloads would fail too.
	RootLevel bool

	// RetryAfter is the delay the server asked for, if any.
	RetryAfter time.Duration
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrCorrupt:
		return e.Kind == KindCorrupt
	case ErrDisk:
		return e.Kind == KindDisk
	case ErrCancelled:
		return e.Kind == KindCancelled
	case ErrRejected:
		return e.Kind == KindRejected
	}
	return false
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// diskError wraps a file system error, marking the conditions that affect
// the whole destination root.
func diskError(path string, err error) *Error {
	e := newError(KindDisk, path, err)
	e.RootLevel = isRootLevel(err)
	return e
}
