package location

import (
	"context"

	"trailmemo/internal/domain"
)

// Fixed reports a configured coordinate. It suits stationary kiosks and testing.
type Fixed struct {
	fix domain.Location
}

func NewFixed(fix domain.Location) *Fixed {
	return &Fixed{fix: fix}
}

func (f *Fixed) Start(context.Context) error { return nil }

func (f *Fixed) Current() (domain.Location, bool) {
	return f.fix, f.fix.Acceptable()
}

func (f *Fixed) Stop() error { return nil }

// Unavailable never has a fix, so every upload fails with a location error.
type Unavailable struct{}

func (Unavailable) Start(context.Context) error { return nil }

func (Unavailable) Current() (domain.Location, bool) { return domain.Location{}, false }

func (Unavailable) Stop() error { return nil }
