package uploads

import (
	"context"
	"fmt"
	"sync"
)

// MemoryFetcher serves records put into it directly. The CLI and tests use
// it in place of the object store.
type MemoryFetcher struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{records: make(map[string]Record)}
}

func (f *MemoryFetcher) Put(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.FileID] = rec
}

func (f *MemoryFetcher) Fetch(_ context.Context, fileID string) (Record, error) {
	if err := validID(fileID); err != nil {
		return Record{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.records[fileID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return rec, nil
}
