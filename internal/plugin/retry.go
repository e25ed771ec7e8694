package plugin

import (
	"path"
	"sync/atomic"
	"time"

	"conductor/internal/event"
	"conductor/internal/recorder"
	"conductor/internal/step"
	"conductor/internal/suite"
)

// DefaultIgnoredSteps are never retried by RetryFailedStep.
var DefaultIgnoredSteps = []string{"amOnPage", "wait*", "send*", "execute*", "run*", "have*"}

type retryFailedStepConfig struct {
	Retries      int           `yaml:"retries"`
	MinTimeout   time.Duration `yaml:"minTimeout"`
	MaxTimeout   time.Duration `yaml:"maxTimeout"`
	Factor       float64       `yaml:"factor"`
	IgnoredSteps []string      `yaml:"ignoredSteps"`
	// DeferToScenarioRetries skips tests that have their own retries.
	DeferToScenarioRetries *bool `yaml:"deferToScenarioRetries"`
}

// RetryFailedStep retries a failing step before the test is failed. A retry
// policy is pushed at the start of every test; it only applies while a step
// whose name is not ignored is running.
func RetryFailedStep(host Host, cfg map[string]any) error {
	c := retryFailedStepConfig{Retries: 3}
	if err := decode(cfg, &c); err != nil {
		return err
	}
	ignored := append(append([]string{}, DefaultIgnoredSteps...), c.IgnoredSteps...)
	for _, pattern := range ignored {
		if _, err := path.Match(pattern, ""); err != nil {
			return err
		}
	}
	deferToScenario := c.DeferToScenarioRetries == nil || *c.DeferToScenarioRetries

	var enabled atomic.Bool
	policy := recorder.RetryPolicy{
		Retries:    c.Retries,
		MinTimeout: c.MinTimeout,
		MaxTimeout: c.MaxTimeout,
		Factor:     c.Factor,
		When:       func(error) bool { return enabled.Load() },
	}

	bus, rec := host.Bus(), host.Recorder()
	bus.On(event.StepStarted, func(ev event.Event) {
		st, ok := ev.Arg(0).(*step.Step)
		if !ok {
			return
		}
		enabled.Store(!matchAny(ignored, st.Name))
	})
	bus.On(event.StepFinished, func(event.Event) { enabled.Store(false) })
	bus.On(event.TestBefore, func(ev event.Event) {
		if t, ok := ev.Arg(0).(*suite.Test); ok && deferToScenario && t.Retries > 0 {
			return
		}
		rec.Retry(policy)
	})
	return nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
