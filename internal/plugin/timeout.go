package plugin

import (
	"time"

	"conductor/internal/event"
	"conductor/internal/step"
)

type stepTimeoutConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	NoTimeoutSteps []string      `yaml:"noTimeoutSteps"`
	// OverrideStepLimits replaces timeouts set with LimitTime.
	OverrideStepLimits bool `yaml:"overrideStepLimits"`
}

// StepTimeout gives every step a default timeout.
func StepTimeout(host Host, cfg map[string]any) error {
	c := stepTimeoutConfig{
		Timeout:        150 * time.Second,
		NoTimeoutSteps: []string{"amOnPage", "wait*"},
	}
	if err := decode(cfg, &c); err != nil {
		return err
	}

	host.Bus().On(event.StepBefore, func(ev event.Event) {
		st, ok := ev.Arg(0).(*step.Step)
		if !ok || matchAny(c.NoTimeoutSteps, st.Name) {
			return
		}
		if st.Timeout == 0 || c.OverrideStepLimits {
			st.Timeout = c.Timeout
		}
	})
	return nil
}
