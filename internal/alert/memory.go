package alert

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// MemoryScheduler keeps live alerts in memory and logs them. It is the
// scheduler when no push service is configured.
type MemoryScheduler struct {
	mu    sync.Mutex
	live  map[string]Alert
	badge int
}

// NewMemoryScheduler creates an empty MemoryScheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{live: make(map[string]Alert)}
}

// Schedule stores a, replacing any alert with the same identifier.
func (s *MemoryScheduler) Schedule(_ context.Context, a Alert) error {
	s.mu.Lock()
	_, superseded := s.live[a.Identifier]
	s.live[a.Identifier] = a
	s.mu.Unlock()

	slog.Info("alert",
		"identifier", a.Identifier,
		"title", a.Payload.Title,
		"body", a.Payload.Body,
		"url", a.Payload.URL,
		"superseded", superseded)
	return nil
}

// Cancel removes the alert with identifier.
func (s *MemoryScheduler) Cancel(_ context.Context, identifier string) error {
	s.mu.Lock()
	delete(s.live, identifier)
	s.mu.Unlock()
	return nil
}

// SetBadgeCount records the badge count.
func (s *MemoryScheduler) SetBadgeCount(_ context.Context, n int) error {
	s.mu.Lock()
	s.badge = n
	s.mu.Unlock()
	return nil
}

// Live returns the live alerts ordered by identifier.
func (s *MemoryScheduler) Live() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Sorted(maps.Keys(s.live))
	out := make([]Alert, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.live[id])
	}
	return out
}

// Badge returns the last badge count.
func (s *MemoryScheduler) Badge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badge
}
