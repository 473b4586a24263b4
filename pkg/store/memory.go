package store

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

// MemoryStore keeps encoded verdicts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{verdicts: make(map[Key][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*verdict.Verdict, error) {
	s.mu.RLock()
	b, ok := s.verdicts[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(b)
}

func (s *MemoryStore) Put(_ context.Context, v *verdict.Verdict) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[KeyOf(v)] = b
	return nil
}

func (s *MemoryStore) Close() error { return nil }
