package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// MemoryStore keeps checkpoints in process memory. Used by tests and by
// `casework serve --checkpoint.backend=memory` for throwaway sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[core.ThreadID]core.Checkpoint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[core.ThreadID]core.Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp *core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cp
	stored.State = append([]byte(nil), cp.State...)
	stored.Revision = s.items[cp.ThreadID].Revision + 1
	s.items[cp.ThreadID] = stored
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id core.ThreadID) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.items[id]
	if !ok {
		return nil, core.ErrNotFound("checkpoint", string(id))
	}
	cp.State = append([]byte(nil), cp.State...)
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id core.ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]core.ThreadSummary, error) {
	s.mu.RLock()
	out := make([]core.ThreadSummary, 0, len(s.items))
	for _, cp := range s.items {
		out = append(out, cp.Summary())
	}
	s.mu.RUnlock()

	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortSummaries(out []core.ThreadSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ThreadID < out[j].ThreadID
	})
}
