// Package history keeps processed items in completion order and remembers which post ids
// have already been seen.
package history

import (
	"sync"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

// Store is an append-only item arena with an id index. When max is positive the oldest
// items are evicted once the store is full.
type Store struct {
	mu    sync.RWMutex
	items []*feed.Item
	index map[string]*feed.Item
	max   int
}

// NewStore creates a store. A max of zero keeps every item.
func NewStore(max int) *Store {
	if max < 0 {
		max = 0
	}
	return &Store{index: make(map[string]*feed.Item), max: max}
}

// Append records a completed item and reports the item evicted to make room, if any.
func (s *Store) Append(it *feed.Item) (evicted *feed.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && len(s.items) >= s.max {
		evicted = s.items[0]
		s.items[0] = nil
		s.items = s.items[1:]
		if s.index[evicted.Post.ID] == evicted {
			delete(s.index, evicted.Post.ID)
		}
	}
	s.items = append(s.items, it)
	s.index[it.Post.ID] = it
	return evicted
}

// Get looks an item up by post id.
func (s *Store) Get(id string) (*feed.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.index[id]
	return it, ok
}

// Snapshot returns the items in completion order.
func (s *Store) Snapshot() []*feed.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*feed.Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len reports the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
