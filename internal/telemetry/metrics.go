// Package telemetry exports run metrics to Prometheus and traces suites,
// tests and steps with OpenTelemetry.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"conductor/internal/event"
	"conductor/internal/step"
	"conductor/internal/suite"
)

// Metrics holds the run collectors. One instance is shared by all workers.
type Metrics struct {
	StepsTotal          *prometheus.CounterVec
	StepDurationSeconds *prometheus.HistogramVec
	StepRetriesTotal    *prometheus.CounterVec
	TestsTotal          *prometheus.CounterVec
	TestDurationSeconds prometheus.Histogram
	TestsRunning        prometheus.Gauge
	HooksFailedTotal    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg, or the default registry when
// reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		StepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "step",
			Name:      "total",
			Help:      "Executed steps, labelled by helper method and outcome.",
		}, []string{"action", "status"}),
		StepDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Step execution time in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"action"}),
		StepRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "step",
			Name:      "retries_total",
			Help:      "Step attempts beyond the first.",
		}, []string{"action"}),
		TestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "test",
			Name:      "total",
			Help:      "Finished tests, labelled by outcome.",
		}, []string{"status"}),
		TestDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "test",
			Name:      "duration_seconds",
			Help:      "Test execution time in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		TestsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "test",
			Name:      "running",
			Help:      "Tests currently executing.",
		}),
		HooksFailedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "hook",
			Name:      "failed_total",
			Help:      "Failed hooks, labelled by hook kind.",
		}, []string{"kind"}),
	}
}

// Attach updates the collectors from bus events.
func (m *Metrics) Attach(bus *event.Bus, _ int) {
	var (
		mu      sync.Mutex
		running = map[*suite.Test]bool{}
	)
	bus.On(event.TestStarted, func(ev event.Event) {
		t, ok := ev.Arg(0).(*suite.Test)
		if !ok {
			return
		}
		mu.Lock()
		running[t] = true
		mu.Unlock()
		m.TestsRunning.Inc()
	})
	bus.On(event.TestFinished, func(ev event.Event) {
		t, ok := ev.Arg(0).(*suite.Test)
		if !ok {
			return
		}
		mu.Lock()
		started := running[t]
		delete(running, t)
		mu.Unlock()
		if started {
			m.TestsRunning.Dec()
		}
		status := "passed"
		if !t.Outcome().OK() {
			status = "failed"
		}
		m.TestsTotal.WithLabelValues(status).Inc()
		m.TestDurationSeconds.Observe(t.Duration().Seconds())
	})
	bus.On(event.StepPassed, func(ev event.Event) { m.step(ev, "passed") })
	bus.On(event.StepFailed, func(ev event.Event) { m.step(ev, "failed") })
	bus.On(event.HookFailed, func(ev event.Event) {
		if h, ok := ev.Arg(0).(*suite.Hook); ok {
			m.HooksFailedTotal.WithLabelValues(string(h.Kind)).Inc()
		}
	})
}

func (m *Metrics) step(ev event.Event, status string) {
	st, ok := ev.Arg(0).(*step.Step)
	if !ok {
		return
	}
	m.StepsTotal.WithLabelValues(st.Name, status).Inc()
	m.StepDurationSeconds.WithLabelValues(st.Name).Observe(st.Duration().Seconds())
	if n := st.Attempts(); n > 1 {
		m.StepRetriesTotal.WithLabelValues(st.Name).Add(float64(n - 1))
	}
}
