// Package location supplies device position fixes to the recording controller.
package location

import (
	"sync"
	"time"

	"trailmemo/internal/domain"
)

// Filter keeps the most recent fix whose accuracy is within domain.MaxAcceptedAccuracy.
// Imprecise fixes are dropped and never replace an accepted one.
type Filter struct {
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	current  *domain.Location
	received time.Time
}

// NewFilter returns a filter. A positive maxAge makes Current forget fixes older than that.
func NewFilter(maxAge time.Duration) *Filter {
	return &Filter{maxAge: maxAge, now: time.Now}
}

// Offer records fix if it is acceptable and reports whether it was kept.
func (f *Filter) Offer(fix domain.Location) bool {
	if !fix.Acceptable() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := fix
	f.current = &copied
	f.received = f.now()
	return true
}

// Reset forgets the current fix.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	f.received = time.Time{}
}

func (f *Filter) Current() (domain.Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return domain.Location{}, false
	}
	if f.maxAge > 0 && f.now().Sub(f.received) > f.maxAge {
		return domain.Location{}, false
	}
	return *f.current, true
}
