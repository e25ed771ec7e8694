package collector

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Percent is a rate limit written as "2.5%" in configuration.
type Percent float64

// ParsePercent reads values such as "5%" or " 0.5% ".
func ParsePercent(s string) (Percent, error) {
	num, ok := strings.CutSuffix(strings.TrimSpace(s), "%")
	if !ok {
		return 0, fmt.Errorf("invalid percentage %q: missing %%", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("invalid percentage %q", s)
	}
	return Percent(v), nil
}

func (p *Percent) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParsePercent(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*p = v
	return nil
}

func (p Percent) MarshalYAML() (any, error) { return p.String(), nil }

func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', -1, 64) + "%"
}

// Latency caps duration statistics. Zero fields are not checked.
type Latency struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
	Max time.Duration `yaml:"max"`
}

// Thresholds are the pass criteria of a run, checked after the report.
type Thresholds struct {
	StepDuration *Latency `yaml:"step_duration"`
	TestDuration *Latency `yaml:"test_duration"`
	// Actions limits the latency of single helper actions, such as "see".
	Actions     map[string]Latency `yaml:"actions"`
	StepsFailed *Percent           `yaml:"steps_failed"`
	TestsFailed *Percent           `yaml:"tests_failed"`
	// StepRetries caps the retries spent by all steps together.
	StepRetries *int `yaml:"step_retries"`
}

// Verdict is the outcome of one limit.
type Verdict struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Limit  string `json:"limit"`
	Actual string `json:"actual"`
}

// Verdicts collects every checked limit.
type Verdicts struct {
	Passed  bool      `json:"passed"`
	Results []Verdict `json:"results"`
}

func (vs *Verdicts) add(name string, passed bool, limit, actual string) {
	vs.Results = append(vs.Results, Verdict{Name: name, Passed: passed, Limit: limit, Actual: actual})
	vs.Passed = vs.Passed && passed
}

// Failed returns the verdicts that did not pass.
func (vs *Verdicts) Failed() []Verdict {
	var out []Verdict
	for _, v := range vs.Results {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// Check judges m. A nil receiver passes.
func (t *Thresholds) Check(m *Metrics) *Verdicts {
	vs := &Verdicts{Passed: true}
	if t == nil {
		return vs
	}

	if t.StepDuration != nil {
		vs.latency("step_duration", *t.StepDuration, m.StepDuration)
	}
	if t.TestDuration != nil {
		vs.latency("test_duration", *t.TestDuration, m.TestDuration)
	}
	actions := make([]string, 0, len(t.Actions))
	for a := range t.Actions {
		actions = append(actions, a)
	}
	slices.Sort(actions)
	for _, a := range actions {
		sm, ok := m.Actions[a]
		if !ok {
			continue
		}
		vs.latency("actions."+a, t.Actions[a], sm.Duration)
	}

	if t.StepsFailed != nil {
		vs.rate("steps_failed", *t.StepsFailed, m.StepsFailed, m.StepCount)
	}
	if t.TestsFailed != nil {
		vs.rate("tests_failed", *t.TestsFailed, m.TestsFailed, m.Tests)
	}
	if t.StepRetries != nil {
		limit := *t.StepRetries
		vs.add("step_retries", m.StepRetries <= limit, strconv.Itoa(limit), strconv.Itoa(m.StepRetries))
	}
	return vs
}

func (vs *Verdicts) latency(prefix string, limit Latency, actual DurationMetrics) {
	for _, c := range []struct {
		stat          string
		limit, actual time.Duration
	}{
		{"avg", limit.Avg, actual.Avg},
		{"p50", limit.P50, actual.P50},
		{"p90", limit.P90, actual.P90},
		{"p95", limit.P95, actual.P95},
		{"p99", limit.P99, actual.P99},
		{"max", limit.Max, actual.Max},
	} {
		if c.limit > 0 {
			vs.add(prefix+"."+c.stat, c.actual < c.limit, FormatDuration(c.limit), FormatDuration(c.actual))
		}
	}
}

// rate passes below the limit; a zero limit tolerates only zero failures.
func (vs *Verdicts) rate(name string, limit Percent, failed, total int) {
	var actual float64
	if total > 0 {
		actual = float64(failed) / float64(total) * 100
	}
	vs.add(name, actual < float64(limit) || actual == 0, limit.String(), fmt.Sprintf("%.2f%%", actual))
}

// FormatDuration renders d at a precision suited to its size.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
