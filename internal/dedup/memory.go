package dedup

import (
	"context"
	"sync"

	"github.com/nao1215/dropfetch/internal/model"
)

// Memory is an in-memory Index. Its contents are lost when the process exits.
type Memory struct {
	mu      sync.RWMutex
	records map[model.DedupKey]model.DownloadRecord
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{records: make(map[model.DedupKey]model.DownloadRecord)}
}

// Exists implements Index.
func (m *Memory) Exists(_ context.Context, key model.DedupKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[key]
	return ok, nil
}

// Record implements Index.
func (m *Memory) Record(_ context.Context, key model.DedupKey, rec model.DownloadRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return nil
	}
	rec.Key = key
	m.records[key] = rec
	return nil
}

// Lookup implements Index.
func (m *Memory) Lookup(_ context.Context, key model.DedupKey) (*model.DownloadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
