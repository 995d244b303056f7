package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
type MemoryStore struct {
	mu     sync.Mutex
	blocks []Block
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, limit int) ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.blocks
	if limit > 0 && len(blocks) > limit {
		blocks = blocks[len(blocks)-limit:]
	}
	out := make([]Block, len(blocks))
	copy(out, blocks)
	return out, nil
}

// Append implements Store. The same tail check the PostgresStore performs
// transactionally is done here under the store mutex, so racing appenders
// observe the identical failure mode in tests.
func (s *MemoryStore) Append(_ context.Context, b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tailHash := GenesisPrevHash
	if n := len(s.blocks); n > 0 {
		tailHash = s.blocks[n-1].BlockHash
	}
	if b.Index != len(s.blocks)+1 || b.PrevHash != tailHash {
		return ErrConcurrentAppend
	}
	s.blocks = append(s.blocks, *b)
	return nil
}
