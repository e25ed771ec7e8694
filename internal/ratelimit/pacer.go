// Package ratelimit paces step execution along a schedule of rate phases.
package ratelimit

import (
	"context"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer admits steps at the rate its schedule allows when each one asks.
// A rate of zero admits everything immediately.
type Pacer struct {
	schedule *Schedule

	mu       sync.Mutex
	limiter  *rate.Limiter
	onChange func(float64)
}

// NewPacer starts pacing at the schedule's current rate.
func NewPacer(s *Schedule) *Pacer {
	r := s.CurrentRate()
	return &Pacer{
		schedule: s,
		limiter:  rate.NewLimiter(rate.Limit(r), burstFor(r)),
	}
}

// burstFor allows one second's worth of steps at once.
func burstFor(perSecond float64) int {
	return max(1, int(math.Ceil(perSecond)))
}

// OnChange registers fn to observe every rate change made by Wait.
func (p *Pacer) OnChange(fn func(perSecond float64)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Wait follows the schedule, then blocks until one more step may run or ctx
// is done.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	want := p.schedule.CurrentRate()
	changed := float64(p.limiter.Limit()) != want
	if changed {
		p.limiter.SetLimit(rate.Limit(want))
		p.limiter.SetBurst(burstFor(want))
	}
	limiter, notify := p.limiter, p.onChange
	p.mu.Unlock()

	if changed && notify != nil {
		notify(want)
	}
	if want <= 0 {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// Rate returns the steps per second currently enforced.
func (p *Pacer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.limiter.Limit())
}
