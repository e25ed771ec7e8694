package ratelimit

import (
	"testing"
	"time"

	"conductor/internal/config"
	"conductor/internal/core"
)

var scheduleStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSchedule_SteadyPhase(t *testing.T) {
	clock := core.NewFakeClock(scheduleStart)
	s := NewScheduleWithClock(config.ThrottleConfig{
		Phases: []config.ThrottlePhase{{Name: "steady", Duration: time.Second, Rate: 10}},
	}, clock)

	if got := s.CurrentRate(); got != 10 {
		t.Errorf("expected rate 10, got %v", got)
	}
	if s.IsComplete() {
		t.Error("expected schedule not to be complete")
	}
	if phase := s.CurrentPhase(); phase == nil || phase.Name != "steady" {
		t.Errorf("expected phase 'steady', got %v", phase)
	}
}

func TestSchedule_Ramp(t *testing.T) {
	clock := core.NewFakeClock(scheduleStart)
	s := NewScheduleWithClock(config.ThrottleConfig{
		Phases: []config.ThrottlePhase{
			{Name: "warm", Duration: 10 * time.Second, Rate: 2},
			{Name: "ramp", Duration: 10 * time.Second, StartRate: 0, EndRate: 20},
		},
	}, clock)

	tests := []struct {
		advance time.Duration
		want    float64
	}{
		{0, 2},
		{10 * time.Second, 0},
		{5 * time.Second, 10},
		{4 * time.Second, 18},
	}
	for _, tt := range tests {
		clock.Advance(tt.advance)
		if got := s.CurrentRate(); got != tt.want {
			t.Errorf("at %v: expected rate %v, got %v", s.Elapsed(), tt.want, got)
		}
	}
}

func TestSchedule_CompleteFallsBackToBase(t *testing.T) {
	clock := core.NewFakeClock(scheduleStart)
	s := NewScheduleWithClock(config.ThrottleConfig{
		Rate:   5,
		Phases: []config.ThrottlePhase{{Name: "burst", Duration: time.Second, Rate: 50}},
	}, clock)

	clock.Advance(2 * time.Second)

	if !s.IsComplete() {
		t.Error("expected schedule to be complete")
	}
	if s.CurrentPhase() != nil {
		t.Error("expected no current phase")
	}
	if got := s.CurrentRate(); got != 5 {
		t.Errorf("expected base rate 5, got %v", got)
	}
}

func TestSchedule_NoPhases(t *testing.T) {
	s := NewSchedule(config.ThrottleConfig{Rate: 3})

	if !s.IsComplete() {
		t.Error("schedule without phases is complete")
	}
	if got := s.CurrentRate(); got != 3 {
		t.Errorf("expected rate 3, got %v", got)
	}
}
