package websocket

import (
	"sync"
	"time"
)

// SlidingWindow admits at most limit events per key within any trailing
// window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[int64][]time.Time
	now    func() time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		hits:   make(map[int64][]time.Time),
		now:    time.Now,
	}
}

// Allow records an event for key and reports whether it fits in the window.
// Rejected events are not recorded.
func (s *SlidingWindow) Allow(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	kept := s.hits[key][:0]
	for _, ts := range s.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= s.limit {
		s.hits[key] = kept
		return false
	}
	s.hits[key] = append(kept, now)
	return true
}

// Reset forgets key, called when its connection closes.
func (s *SlidingWindow) Reset(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
}
