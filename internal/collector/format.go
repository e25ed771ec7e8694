package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// FormatText writes metrics in human-readable format.
func FormatText(w io.Writer, m *Metrics, thresholds *Verdicts) {
	if m.Tests == 0 && m.StepCount == 0 {
		fmt.Fprintln(w, "No tests executed")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Conductor - Test Results")
	fmt.Fprintln(w, "==============================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:     %v\n", m.RunDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Suites:       %s\n", formatNumber(m.Suites))
	fmt.Fprintf(w, "Tests:        %s passed, %s failed", formatNumber(m.TestsPassed), formatNumber(m.TestsFailed))
	if m.TestsSkipped > 0 {
		fmt.Fprintf(w, ", %s skipped", formatNumber(m.TestsSkipped))
	}
	fmt.Fprintf(w, " (%s total)\n", formatNumber(m.Tests))
	if m.TestsRetried > 0 {
		fmt.Fprintf(w, "Retried:      %s\n", formatNumber(m.TestsRetried))
	}
	if m.HooksFailed > 0 {
		fmt.Fprintf(w, "Hook errors:  %s\n", formatNumber(m.HooksFailed))
	}
	fmt.Fprintf(w, "Steps:        %s (%.1f%% passed)\n", formatNumber(m.StepCount), m.SuccessRate)
	fmt.Fprintf(w, "Steps/sec:    %.1f\n", m.StepsPerSec)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Step Times:")
	fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.StepDuration.Min))
	fmt.Fprintf(w, "  Avg:    %s\n", FormatDuration(m.StepDuration.Avg))
	fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.StepDuration.P50))
	fmt.Fprintf(w, "  P90:    %s\n", FormatDuration(m.StepDuration.P90))
	fmt.Fprintf(w, "  P95:    %s\n", FormatDuration(m.StepDuration.P95))
	fmt.Fprintf(w, "  P99:    %s\n", FormatDuration(m.StepDuration.P99))
	fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.StepDuration.Max))

	if len(m.Actions) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "By Action:")
		for _, action := range sortedActions(m.Actions) {
			sm := m.Actions[action]
			fmt.Fprintf(w, "  %-20s %s steps   avg=%s  p95=%s  failed=%d\n",
				action, formatNumber(sm.Count),
				FormatDuration(sm.Duration.Avg),
				FormatDuration(sm.Duration.P95),
				sm.Failed)
		}
	}

	if len(m.Failures) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Failures:")
		for i, f := range m.Failures {
			fmt.Fprintf(w, "  %d) %s: %s\n", i+1, f.Suite, f.Test)
			fmt.Fprintf(w, "     %s\n", f.Error)
		}
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, v := range thresholds.Results {
			symbol := "✓"
			if !v.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s < %s (actual: %s)\n", symbol, v.Name, v.Limit, v.Actual)
		}
	}
}

// FormatJSON writes metrics in JSON format.
func FormatJSON(w io.Writer, m *Metrics, thresholds *Verdicts) {
	output := struct {
		Duration     string                     `json:"duration"`
		Suites       int                        `json:"suites"`
		Tests        int                        `json:"tests"`
		TestsPassed  int                        `json:"testsPassed"`
		TestsFailed  int                        `json:"testsFailed"`
		TestsSkipped int                        `json:"testsSkipped"`
		TestsRetried int                        `json:"testsRetried"`
		HooksFailed  int                        `json:"hooksFailed"`
		Steps        int                        `json:"steps"`
		StepsFailed  int                        `json:"stepsFailed"`
		SuccessRate  float64                    `json:"successRate"`
		StepsPerSec  float64                    `json:"stepsPerSec"`
		StepDuration jsonDurationMetrics        `json:"stepDurations"`
		TestDuration jsonDurationMetrics        `json:"testDurations"`
		Actions      map[string]jsonStepMetrics `json:"actions"`
		Failures     []Failure                  `json:"failures,omitempty"`
		Thresholds   *Verdicts                  `json:"thresholds,omitempty"`
	}{
		Duration:     m.RunDuration.Round(time.Millisecond).String(),
		Suites:       m.Suites,
		Tests:        m.Tests,
		TestsPassed:  m.TestsPassed,
		TestsFailed:  m.TestsFailed,
		TestsSkipped: m.TestsSkipped,
		TestsRetried: m.TestsRetried,
		HooksFailed:  m.HooksFailed,
		Steps:        m.StepCount,
		StepsFailed:  m.StepsFailed,
		SuccessRate:  m.SuccessRate,
		StepsPerSec:  m.StepsPerSec,
		StepDuration: toJSONDurationMetrics(m.StepDuration),
		TestDuration: toJSONDurationMetrics(m.TestDuration),
		Actions:      make(map[string]jsonStepMetrics),
		Failures:     m.Failures,
		Thresholds:   thresholds,
	}

	for action, sm := range m.Actions {
		output.Actions[action] = jsonStepMetrics{
			Count:       sm.Count,
			Success:     sm.Success,
			Failed:      sm.Failed,
			SuccessRate: float64(sm.Success) / float64(sm.Count) * 100,
			Durations:   toJSONDurationMetrics(sm.Duration),
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonStepMetrics struct {
	Count       int                 `json:"count"`
	Success     int                 `json:"success"`
	Failed      int                 `json:"failed"`
	SuccessRate float64             `json:"successRate"`
	Durations   jsonDurationMetrics `json:"durations"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

func sortedActions(actions map[string]*StepMetrics) []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d,%03d", n/1000, n%1000)
}
