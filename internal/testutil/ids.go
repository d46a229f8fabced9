package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates deterministic ids ("prefix-0001", "prefix-0002",
// ...) as a drop-in for uuid generation in tests.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator with the given prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (s *SequentialIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}

// Reset restarts the sequence. After Reset the next id ends in -0001.
func (s *SequentialIDs) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
