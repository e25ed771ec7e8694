package collector

import (
	"time"

	"conductor/internal/core"
)

// ComputeMetrics computes metrics from records. Pure function, no side effects.
func ComputeMetrics(records []core.Record, runDuration time.Duration) *Metrics {
	m := &Metrics{
		Actions:     make(map[string]*StepMetrics),
		RunDuration: runDuration,
	}
	if len(records) == 0 {
		return m
	}

	var stepDurations, testDurations []time.Duration
	actionDurations := make(map[string][]time.Duration)

	for _, r := range records {
		switch r.Kind {
		case core.KindSuite:
			m.Suites++
		case core.KindHook:
			if !r.Success {
				m.HooksFailed++
			}
		case core.KindTest:
			m.Tests++
			if r.Skipped {
				m.TestsSkipped++
				continue
			}
			if r.Retries > 0 {
				m.TestsRetried++
			}
			if r.Success {
				m.TestsPassed++
			} else {
				m.TestsFailed++
				m.Failures = append(m.Failures, Failure{Suite: r.Suite, Test: r.Test, Error: r.Error})
			}
			testDurations = append(testDurations, r.Duration)
		case core.KindStep:
			m.StepCount++
			m.StepRetries += r.Retries
			if r.Success {
				m.StepsPassed++
			} else {
				m.StepsFailed++
			}
			stepDurations = append(stepDurations, r.Duration)

			action := r.Action
			if action == "" {
				action = r.Name
			}
			sm, ok := m.Actions[action]
			if !ok {
				sm = &StepMetrics{}
				m.Actions[action] = sm
			}
			sm.Count++
			if r.Success {
				sm.Success++
			} else {
				sm.Failed++
			}
			actionDurations[action] = append(actionDurations[action], r.Duration)
		}
	}

	if m.StepCount > 0 {
		m.SuccessRate = float64(m.StepsPassed) / float64(m.StepCount) * 100
	}
	if m.RunDuration > 0 {
		m.StepsPerSec = float64(m.StepCount) / m.RunDuration.Seconds()
	}

	m.StepDuration = Summarize(stepDurations)
	m.TestDuration = Summarize(testDurations)
	for action, durations := range actionDurations {
		m.Actions[action].Duration = Summarize(durations)
	}
	return m
}
