// Package rate keeps a loop running at a fixed frequency.
//
// A Rate is called once per iteration. It sleeps away whatever is left of the
// period after the iteration's own work, and measures every period from the
// previous deadline rather than from when the sleep happened to return, so the
// overhead of the sleep call itself does not accumulate into drift.
//
//	r, err := rate.New(50) // Hz
//	if err != nil {
//		return err
//	}
//	for {
//		publish()
//		r.Sleep()
//	}
package rate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ShortSleepThreshold is the remaining wait below which Sleep busy-polls the
// clock instead of calling time.Sleep, whose granularity is too coarse there.
const ShortSleepThreshold = 100 * time.Microsecond

// ErrInvalidFrequency is returned by New for a non-positive or non-finite frequency.
var ErrInvalidFrequency = errors.New("frequency must be positive and finite")

// Rate paces a loop. It is not safe for concurrent use; use one Rate per loop.
type Rate struct {
	period time.Duration
	last   time.Time
	seeded bool

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a Rate releasing hz times per second.
func New(hz float64) (*Rate, error) {
	if hz <= 0 || math.IsInf(hz, 0) || math.IsNaN(hz) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrequency, hz)
	}
	period := time.Duration(float64(time.Second) / hz)
	if period <= 0 {
		return nil, fmt.Errorf("%w: %v Hz is below clock resolution", ErrInvalidFrequency, hz)
	}
	return &Rate{
		period: period,
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

// Period returns the interval between releases.
func (r *Rate) Period() time.Duration {
	return r.period
}

// Sleep blocks until one period has passed since the previous release.
// The first call only records the phase reference and returns immediately.
// If the caller's work already took longer than the period, Sleep returns
// without delay and the next period is measured from now.
func (r *Rate) Sleep() {
	current := r.now()
	if !r.seeded {
		r.last = current
		r.seeded = true
		return
	}

	remaining := r.period - current.Sub(r.last)
	if remaining > ShortSleepThreshold {
		r.sleep(remaining)
		r.last = current.Add(max(remaining, 0))
		return
	}

	desired := current.Add(remaining)
	for current.Before(desired) {
		current = r.now()
	}
	if current.After(desired) {
		r.last = current
	} else {
		r.last = desired
	}
}
