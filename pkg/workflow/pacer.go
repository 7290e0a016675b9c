package workflow

import (
	"context"
	"time"
)

// Pacer spaces out worker calls so progress appears incrementally. It has
// no effect on the result of a run.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration) error
}

// SleepPacer waits for the full delay unless ctx is done first.
type SleepPacer struct{}

func (SleepPacer) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoPacer never waits.
type NoPacer struct{}

func (NoPacer) Pause(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
