package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// Budget grants execution time for work done in background mode. Every
// granted lease must be released exactly once.
type Budget interface {
	Begin(name string) (release func(), ok bool)
}

// WindowBudget grants leases bounded by a fixed window. A zero or negative
// window denies every lease.
type WindowBudget struct {
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	outstanding int
	overruns    int
}

// NewWindowBudget creates a WindowBudget.
func NewWindowBudget(window time.Duration) *WindowBudget {
	return &WindowBudget{window: window, now: time.Now}
}

// Begin opens a lease. The returned release is idempotent.
func (b *WindowBudget) Begin(name string) (func(), bool) {
	if b.window <= 0 {
		return func() {}, false
	}

	b.mu.Lock()
	b.outstanding++
	b.mu.Unlock()

	deadline := b.now().Add(b.window)
	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.outstanding--
			late := b.now().After(deadline)
			if late {
				b.overruns++
			}
			b.mu.Unlock()

			if late {
				slog.Warn("background work overran its window", "task", name, "window", b.window)
			}
		})
	}, true
}

// Outstanding returns the number of leases not yet released.
func (b *WindowBudget) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding
}

// Overruns returns how many leases were released after their window closed.
func (b *WindowBudget) Overruns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}
