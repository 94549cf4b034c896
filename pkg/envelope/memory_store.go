package envelope

import (
	"context"
	"sync"
)

// MemoryStorage implements Storage in memory.
// Thread-safe via RWMutex.
type MemoryStorage struct {
	mu        sync.RWMutex
	envelopes map[string]*Envelope
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{envelopes: make(map[string]*Envelope)}
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envelopes[id]
	if !ok {
		return nil, nil // Not found is not an error, returns nil
	}
	// return copy to avoid race on mutation outside lock
	val := *env
	val.Agents = append([]string(nil), env.Agents...)
	return &val, nil
}

func (s *MemoryStorage) Set(ctx context.Context, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := *env
	val.Agents = append([]string(nil), env.Agents...)
	s.envelopes[env.ID] = &val
	return nil
}
