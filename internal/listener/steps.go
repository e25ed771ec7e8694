package listener

import (
	"log/slog"
	"sync"

	"conductor/internal/event"
	"conductor/internal/step"
	"conductor/internal/suite"
)

// Steps attaches executed steps to the running test and logs them.
type Steps struct {
	*Subscriptions
	mu      sync.Mutex
	current *suite.Test
}

func TrackSteps(bus *event.Bus, logger *slog.Logger) *Steps {
	logger = discard(logger).With(slog.String("component", "steps"))
	s := &Steps{Subscriptions: &Subscriptions{bus: bus}}

	s.on(event.TestStarted, func(ev event.Event) {
		if t, ok := ev.Arg(0).(*suite.Test); ok {
			s.mu.Lock()
			s.current = t
			s.mu.Unlock()
		}
	})
	s.on(event.TestFinished, func(event.Event) {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	})
	s.on(event.StepStarted, func(ev event.Event) {
		st, ok := ev.Arg(0).(*step.Step)
		if !ok {
			return
		}
		if st.Attempts() == 0 {
			if t := s.Current(); t != nil {
				t.AddStep(st)
			}
		}
		logger.Debug("step", slog.String("step", st.String()))
	})
	s.on(event.StepFailed, func(ev event.Event) {
		st, ok := ev.Arg(0).(*step.Step)
		if !ok {
			return
		}
		if t := s.Current(); t != nil {
			t.SetFailedStep(st)
		}
		logger.Debug("step failed",
			slog.String("step", st.String()),
			slog.String("line", st.Line()),
			slog.Any("error", ev.Err()))
	})
	return s
}

// Current returns the test being executed, if any.
func (s *Steps) Current() *suite.Test {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
