package stats

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in-process. No expiry.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) Record(_ context.Context, op, kind string, _ time.Time) error {
	s.mu.Lock()
	s.counts[field(op, kind)]++
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}
