package dedup

import (
	"context"
	"errors"

	"github.com/nao1215/dropfetch/internal/model"
)

// ErrEmptyKey is returned when recording a record without a key.
var ErrEmptyKey = errors.New("dedup key is empty")

// Index answers whether content was already downloaded and records
// completions. Implementations are safe for concurrent use without
// external locking.
type Index interface {
	// Exists reports whether key has a recorded completion.
	Exists(ctx context.Context, key model.DedupKey) (bool, error)

	// Record stores rec under key. Recording a key that already exists
	// is a no-op and keeps the first record.
	Record(ctx context.Context, key model.DedupKey, rec model.DownloadRecord) error

	// Lookup returns the record of key, or nil when there is none.
	Lookup(ctx context.Context, key model.DedupKey) (*model.DownloadRecord, error)
}
