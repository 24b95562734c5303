package provider

import (
	"sync"

	"github.com/rickgao/marketsync/internal/model"
)

// Sequences remembers the last stream sequence decoded per book. Adapters
// stamp REST snapshots with it, and venues without sequence numbers use
// Next to synthesize them.
type Sequences struct {
	mu   sync.Mutex
	last map[model.BookKey]int64
}

// NewSequences creates an empty tracker.
func NewSequences() *Sequences {
	return &Sequences{last: make(map[model.BookKey]int64)}
}

// Observe records seq for key.
func (s *Sequences) Observe(key model.BookKey, seq int64) {
	s.mu.Lock()
	s.last[key] = seq
	s.mu.Unlock()
}

// Next increments and returns the synthesized sequence for key.
func (s *Sequences) Next(key model.BookKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[key]++
	return s.last[key]
}

// Last returns the last sequence seen for key, or 0.
func (s *Sequences) Last(key model.BookKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[key]
}

// Reset forgets every book. Called when a new connection restarts venue
// sequence numbering.
func (s *Sequences) Reset() {
	s.mu.Lock()
	clear(s.last)
	s.mu.Unlock()
}
