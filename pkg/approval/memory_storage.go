package approval

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStorage implements Storage in memory, round-tripping through
// JSON so stored state cannot alias caller-held documents.
type MemoryStorage struct {
	mu  sync.Mutex
	raw []byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return NewDocument(), nil
	}
	var doc Document
	if err := json.Unmarshal(s.raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MemoryStorage) Save(ctx context.Context, doc *Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
	return nil
}
