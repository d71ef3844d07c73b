package history

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSeenCapacity bounds the number of remembered post ids.
const DefaultSeenCapacity = 100000

// Seen is a bounded set of post ids. The least recently seen ids are forgotten first.
type Seen struct {
	cache *lru.Cache[string, struct{}]
}

// NewSeen creates a set holding up to capacity ids.
func NewSeen(capacity int) (*Seen, error) {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Seen{cache: cache}, nil
}

// MarkIfNew records id and reports whether it had not been seen before.
func (s *Seen) MarkIfNew(id string) bool {
	found, _ := s.cache.ContainsOrAdd(id, struct{}{})
	return !found
}

// Contains reports whether id is remembered without refreshing it.
func (s *Seen) Contains(id string) bool {
	return s.cache.Contains(id)
}

// Len reports the number of remembered ids.
func (s *Seen) Len() int { return s.cache.Len() }
