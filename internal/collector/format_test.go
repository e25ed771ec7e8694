package collector

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func sampleMetrics() *Metrics {
	return &Metrics{
		RunDuration: 2 * time.Second,
		Suites:      1,
		Tests:       2,
		TestsPassed: 1,
		TestsFailed: 1,
		StepCount:   4,
		StepsPassed: 3,
		StepsFailed: 1,
		SuccessRate: 75,
		StepsPerSec: 2,
		StepDuration: DurationMetrics{
			Min: 10 * time.Millisecond, Avg: 20 * time.Millisecond, Max: 40 * time.Millisecond,
		},
		Actions: map[string]*StepMetrics{
			"see":   {Count: 2, Success: 1, Failed: 1},
			"click": {Count: 2, Success: 2},
		},
		Failures: []Failure{{Suite: "Login", Test: "fails", Error: "expected text"}},
	}
}

func TestFormatText(t *testing.T) {
	var buf bytes.Buffer
	thresholds := &Verdicts{Passed: false, Results: []Verdict{
		{Name: "steps_failed", Passed: false, Limit: "1%", Actual: "25.00%"},
	}}

	FormatText(&buf, sampleMetrics(), thresholds)
	out := buf.String()

	assert.Contains(t, out, "Conductor - Test Results")
	assert.Contains(t, out, "1 passed, 1 failed (2 total)")
	assert.Contains(t, out, "Steps:        4 (75.0% passed)")
	assert.Contains(t, out, "1) Login: fails")
	assert.Contains(t, out, "✗ steps_failed < 1% (actual: 25.00%)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("  click")), bytes.Index(buf.Bytes(), []byte("  see")))
}

func TestFormatText_Empty(t *testing.T) {
	var buf bytes.Buffer
	FormatText(&buf, &Metrics{}, nil)
	assert.Equal(t, "No tests executed\n", buf.String())
}

func TestFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	FormatJSON(&buf, sampleMetrics(), &Verdicts{Passed: true})

	require.True(t, json.Valid(buf.Bytes()))
	doc := buf.String()
	assert.Equal(t, "2s", gjson.Get(doc, "duration").String())
	assert.EqualValues(t, 1, gjson.Get(doc, "testsFailed").Int())
	assert.Equal(t, "20ms", gjson.Get(doc, "stepDurations.avg").String())
	assert.InDelta(t, 50.0, gjson.Get(doc, "actions.see.successRate").Float(), 0.001)
	assert.Equal(t, "expected text", gjson.Get(doc, "failures.0.error").String())
	assert.True(t, gjson.Get(doc, "thresholds.passed").Bool())
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "12,345", formatNumber(12345))
}
