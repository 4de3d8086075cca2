package watermark

import (
	"context"
	"maps"
	"sync"
)

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)

// MemoryStore keeps watermarks for the life of the process. Used in dry-run
// mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]uint64)}
}

// Seed sets initial values, bypassing the monotonic check.
func (m *MemoryStore) Seed(marks map[string]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.marks, marks)
}

func (m *MemoryStore) Get(_ context.Context, chainID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marks[chainID], nil
}

func (m *MemoryStore) Advance(ctx context.Context, chainID string, value uint64) error {
	if err := ctx.Err(); err != nil {
		return &PersistError{ChainID: chainID, Value: value, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if value > m.marks[chainID] {
		m.marks[chainID] = value
	}
	return nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.marks), nil
}
