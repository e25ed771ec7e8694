package collector

import (
	"slices"
	"time"
)

// Metrics contains aggregated run results.
type Metrics struct {
	RunDuration time.Duration `json:"runDuration"`

	Suites       int     `json:"suites"`
	Tests        int     `json:"tests"`
	TestsPassed  int     `json:"testsPassed"`
	TestsFailed  int     `json:"testsFailed"`
	TestsSkipped int     `json:"testsSkipped"`
	TestsRetried int     `json:"testsRetried"`
	HooksFailed  int     `json:"hooksFailed"`
	StepCount    int     `json:"stepCount"`
	StepsPassed  int     `json:"stepsPassed"`
	StepsFailed  int     `json:"stepsFailed"`
	StepRetries  int     `json:"stepRetries"`
	SuccessRate  float64 `json:"successRate"` // steps
	StepsPerSec  float64 `json:"stepsPerSec"`

	StepDuration DurationMetrics         `json:"stepDuration"`
	TestDuration DurationMetrics         `json:"testDuration"`
	Actions      map[string]*StepMetrics `json:"actions"`
	Failures     []Failure               `json:"failures,omitempty"`
}

// Failure is one failed test.
type Failure struct {
	Suite string `json:"suite"`
	Test  string `json:"test"`
	Error string `json:"error"`
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// StepMetrics contains per-action statistics.
type StepMetrics struct {
	Count    int             `json:"count"`
	Success  int             `json:"success"`
	Failed   int             `json:"failed"`
	Duration DurationMetrics `json:"durations"`
}

// Summarize computes the statistics of ds without reordering it.
func Summarize(ds []time.Duration) DurationMetrics {
	if len(ds) == 0 {
		return DurationMetrics{}
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / time.Duration(len(sorted)),
		P50: nearestRank(sorted, 50),
		P90: nearestRank(sorted, 90),
		P95: nearestRank(sorted, 95),
		P99: nearestRank(sorted, 99),
	}
}

// nearestRank returns the pct-th percentile of an ascending slice: the
// smallest sample with at least pct percent of samples at or below it.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	return sorted[max(rank, 1)-1]
}
