package graph

import (
	"context"
	"sort"
	"sync"
)

// MemoryCheckpointer keeps checkpoint history in process memory. It is
// the default store for tests and single-process demos.
type MemoryCheckpointer struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory store.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{threads: make(map[string][]Checkpoint)}
}

func (m *MemoryCheckpointer) Put(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], cp)
	return nil
}

func (m *MemoryCheckpointer) Latest(_ context.Context, threadID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.threads[threadID]
	if len(history) == 0 {
		return Checkpoint{}, ErrNoCheckpoint
	}
	latest := history[0]
	for _, cp := range history[1:] {
		if cp.StepIndex > latest.StepIndex {
			latest = cp
		}
	}
	return latest, nil
}

func (m *MemoryCheckpointer) History(_ context.Context, threadID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, ErrNoCheckpoint
	}
	out := make([]Checkpoint, len(history))
	copy(out, history)
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (m *MemoryCheckpointer) Close() error { return nil }
