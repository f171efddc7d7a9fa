package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownFace is returned by MemoryStore for faces it does not hold.
var ErrUnknownFace = errors.New("unknown face")

// MemoryStore is an in-process EmbeddingStore.
type MemoryStore struct {
	mu    sync.RWMutex
	faces map[string]Embedding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{faces: make(map[string]Embedding)}
}

// Put stores a copy of emb under faceID.
func (s *MemoryStore) Put(faceID string, emb Embedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces[faceID] = copyEmbedding(emb)
}

func (s *MemoryStore) Get(_ context.Context, faceID string) (Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.faces[faceID]
	if !ok {
		return Embedding{}, fmt.Errorf("%w: %s", ErrUnknownFace, faceID)
	}
	return copyEmbedding(emb), nil
}
