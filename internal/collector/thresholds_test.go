package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func percent(p Percent) *Percent { return &p }

func TestThresholds_NilPasses(t *testing.T) {
	var th *Thresholds
	vs := th.Check(&Metrics{StepCount: 100, StepsFailed: 5})

	assert.True(t, vs.Passed)
	assert.Empty(t, vs.Results)
}

func TestThresholds_StepLatency(t *testing.T) {
	th := &Thresholds{StepDuration: &Latency{
		P95: 200 * time.Millisecond,
		P99: time.Second,
	}}
	vs := th.Check(&Metrics{StepDuration: DurationMetrics{P95: 300 * time.Millisecond, P99: 800 * time.Millisecond}})

	assert.False(t, vs.Passed)
	require.Len(t, vs.Results, 2)
	assert.Equal(t, []Verdict{{Name: "step_duration.p95", Limit: "200ms", Actual: "300ms"}}, vs.Failed())
}

func TestThresholds_TestLatencyMax(t *testing.T) {
	th := &Thresholds{TestDuration: &Latency{Avg: 5 * time.Second, Max: 10 * time.Second}}
	vs := th.Check(&Metrics{TestDuration: DurationMetrics{Avg: 2 * time.Second, Max: 12 * time.Second}})

	assert.False(t, vs.Passed)
	assert.Equal(t, "test_duration.max", vs.Failed()[0].Name)
}

func TestThresholds_ActionLatency(t *testing.T) {
	th := &Thresholds{Actions: map[string]Latency{
		"see":     {P95: 100 * time.Millisecond},
		"click":   {Avg: 100 * time.Millisecond},
		"unknown": {Avg: time.Millisecond},
	}}
	vs := th.Check(&Metrics{Actions: map[string]*StepMetrics{
		"see":   {Count: 3, Duration: DurationMetrics{P95: 150 * time.Millisecond}},
		"click": {Count: 1, Duration: DurationMetrics{Avg: 20 * time.Millisecond}},
	}})

	require.Len(t, vs.Results, 2, "actions without samples are skipped")
	assert.Equal(t, "actions.click.avg", vs.Results[0].Name)
	assert.True(t, vs.Results[0].Passed)
	assert.Equal(t, "actions.see.p95", vs.Results[1].Name)
	assert.False(t, vs.Passed)
}

func TestThresholds_FailureRates(t *testing.T) {
	tests := []struct {
		name    string
		th      *Thresholds
		metrics *Metrics
		passed  bool
		actual  string
	}{
		{"steps below limit", &Thresholds{StepsFailed: percent(5)}, &Metrics{StepCount: 100, StepsFailed: 2}, true, "2.00%"},
		{"steps above limit", &Thresholds{StepsFailed: percent(1)}, &Metrics{StepCount: 100, StepsFailed: 2}, false, "2.00%"},
		{"zero tolerance, no failures", &Thresholds{TestsFailed: percent(0)}, &Metrics{Tests: 3}, true, "0.00%"},
		{"zero tolerance, one failure", &Thresholds{TestsFailed: percent(0)}, &Metrics{Tests: 4, TestsFailed: 1}, false, "25.00%"},
		{"nothing ran", &Thresholds{TestsFailed: percent(0)}, &Metrics{}, true, "0.00%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := tt.th.Check(tt.metrics)
			assert.Equal(t, tt.passed, vs.Passed)
			require.Len(t, vs.Results, 1)
			assert.Equal(t, tt.actual, vs.Results[0].Actual)
		})
	}
}

func TestThresholds_StepRetries(t *testing.T) {
	limit := 2
	th := &Thresholds{StepRetries: &limit}

	assert.True(t, th.Check(&Metrics{StepRetries: 2}).Passed)
	vs := th.Check(&Metrics{StepRetries: 3})
	assert.False(t, vs.Passed)
	assert.Equal(t, Verdict{Name: "step_retries", Limit: "2", Actual: "3"}, vs.Results[0])
}

func TestParsePercent(t *testing.T) {
	v, err := ParsePercent(" 2.5 % ")
	require.NoError(t, err)
	assert.Equal(t, Percent(2.5), v)
	assert.Equal(t, "2.5%", v.String())

	for _, bad := range []string{"2.5", "five%", "-1%", "101%"} {
		_, err := ParsePercent(bad)
		assert.Error(t, err, bad)
	}
}

func TestThresholds_YAML(t *testing.T) {
	var th Thresholds
	require.NoError(t, yaml.Unmarshal([]byte(`
step_duration:
  p95: 500ms
actions:
  see:
    max: 2s
tests_failed: 0%
steps_failed: "1.5%"
step_retries: 10
`), &th))

	assert.Equal(t, 500*time.Millisecond, th.StepDuration.P95)
	assert.Equal(t, 2*time.Second, th.Actions["see"].Max)
	assert.Equal(t, Percent(0), *th.TestsFailed)
	assert.Equal(t, Percent(1.5), *th.StepsFailed)
	assert.Equal(t, 10, *th.StepRetries)

	err := yaml.Unmarshal([]byte("tests_failed: lots\n"), &th)
	assert.ErrorContains(t, err, `line 1: invalid percentage "lots"`)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Microsecond, "500µs"},
		{150 * time.Millisecond, "150ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}
