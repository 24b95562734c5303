package connection

import (
	"slices"
	"sync"
)

// subscriptionSet is the desired topic set. Only membership is guarded; no
// I/O happens under the lock.
type subscriptionSet struct {
	mu     sync.Mutex
	topics map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{topics: make(map[string]struct{})}
}

// add returns the topics that were not already present.
func (s *subscriptionSet) add(topics ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			continue
		}
		s.topics[t] = struct{}{}
		added = append(added, t)
	}
	return added
}

// remove returns the topics that were present.
func (s *subscriptionSet) remove(topics ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, t := range topics {
		if _, ok := s.topics[t]; !ok {
			continue
		}
		delete(s.topics, t)
		removed = append(removed, t)
	}
	return removed
}

// list returns the desired topics in sorted order so resubscription frames
// are identical across reconnects.
func (s *subscriptionSet) list() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	s.mu.Unlock()

	slices.Sort(out)
	return out
}

func (s *subscriptionSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}
