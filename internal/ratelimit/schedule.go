package ratelimit

import (
	"time"

	"conductor/internal/config"
	"conductor/internal/core"
)

// Schedule derives the step rate from throttle phases and the time elapsed
// since it was created. After the last phase the base rate applies.
type Schedule struct {
	base      float64
	phases    []config.ThrottlePhase
	startTime time.Time
	clock     core.Clock
}

// NewSchedule creates a Schedule with a real clock.
func NewSchedule(tc config.ThrottleConfig) *Schedule {
	return NewScheduleWithClock(tc, core.RealClock{})
}

// NewScheduleWithClock creates a Schedule with a custom clock (for testing).
func NewScheduleWithClock(tc config.ThrottleConfig, clock core.Clock) *Schedule {
	return &Schedule{
		base:      tc.Rate,
		phases:    tc.Phases,
		startTime: clock.Now(),
		clock:     clock,
	}
}

func (s *Schedule) Elapsed() time.Duration {
	return s.clock.Since(s.startTime)
}

func (s *Schedule) CurrentPhaseIndex() int {
	elapsed := s.Elapsed()
	var cumulative time.Duration
	for i, p := range s.phases {
		cumulative += p.Duration
		if elapsed < cumulative {
			return i
		}
	}
	return len(s.phases)
}

// CurrentPhase returns the active phase, or nil once all phases elapsed.
func (s *Schedule) CurrentPhase() *config.ThrottlePhase {
	idx := s.CurrentPhaseIndex()
	if idx >= len(s.phases) {
		return nil
	}
	return &s.phases[idx]
}

func (s *Schedule) IsComplete() bool {
	return s.CurrentPhaseIndex() >= len(s.phases)
}

// CurrentRate returns the steps per second allowed right now.
func (s *Schedule) CurrentRate() float64 {
	idx := s.CurrentPhaseIndex()
	if idx >= len(s.phases) {
		return s.base
	}
	phase := s.phases[idx]
	if phase.Rate > 0 {
		return phase.Rate
	}
	if phase.StartRate == phase.EndRate {
		return phase.StartRate
	}
	var phaseStart time.Duration
	for i := 0; i < idx; i++ {
		phaseStart += s.phases[i].Duration
	}
	progress := float64(s.Elapsed()-phaseStart) / float64(phase.Duration)
	if progress > 1 {
		progress = 1
	}
	return phase.StartRate + (phase.EndRate-phase.StartRate)*progress
}
