package listener

import (
	"sync"
	"time"

	"conductor/internal/core"
	"conductor/internal/event"
	"conductor/internal/step"
	"conductor/internal/suite"
)

// Results turns lifecycle events into core.Records.
type Results struct {
	*Subscriptions
	rep    core.Reporter
	worker int
	clock  core.Clock

	mu      sync.Mutex
	started map[any]time.Time
	suite   string
	test    string
}

func ReportResults(bus *event.Bus, rep core.Reporter, worker int, clock core.Clock) *Results {
	if clock == nil {
		clock = core.RealClock{}
	}
	r := &Results{
		Subscriptions: &Subscriptions{bus: bus},
		rep:           rep,
		worker:        worker,
		clock:         clock,
		started:       map[any]time.Time{},
	}

	r.on(event.SuiteBefore, func(ev event.Event) {
		if s, ok := ev.Arg(0).(*suite.Suite); ok {
			r.begin(s)
			r.mu.Lock()
			r.suite = s.Title
			r.mu.Unlock()
		}
	})
	r.on(event.SuiteAfter, func(ev event.Event) {
		if s, ok := ev.Arg(0).(*suite.Suite); ok {
			r.emit(core.Record{Kind: core.KindSuite, Name: s.Title, Success: true, Duration: r.end(s)})
		}
	})
	r.on(event.TestStarted, func(ev event.Event) {
		if t, ok := ev.Arg(0).(*suite.Test); ok {
			r.begin(t)
			r.mu.Lock()
			r.test = t.Title
			r.mu.Unlock()
		}
	})
	r.on(event.TestFinished, func(ev event.Event) {
		t, ok := ev.Arg(0).(*suite.Test)
		if !ok {
			return
		}
		rec := core.Record{
			Kind:     core.KindTest,
			Name:     t.Title,
			Test:     t.Title,
			Success:  t.Outcome().OK(),
			Retries:  t.Attempt() - 1,
			Duration: r.end(t),
		}
		if err := t.Err(); err != nil {
			rec.Error = err.Error()
		}
		r.emit(rec)
		r.mu.Lock()
		r.test = ""
		r.mu.Unlock()
	})
	r.on(event.TestSkipped, func(ev event.Event) {
		if t, ok := ev.Arg(0).(*suite.Test); ok {
			r.emit(core.Record{Kind: core.KindTest, Name: t.Title, Test: t.Title, Skipped: true})
		}
	})
	r.on(event.HookStarted, func(ev event.Event) {
		if h, ok := ev.Arg(0).(*suite.Hook); ok {
			r.begin(h)
		}
	})
	r.on(event.HookPassed, func(ev event.Event) { r.hook(ev, nil) })
	r.on(event.HookFailed, func(ev event.Event) { r.hook(ev, ev.Err()) })
	r.on(event.StepPassed, func(ev event.Event) { r.step(ev, nil) })
	r.on(event.StepFailed, func(ev event.Event) { r.step(ev, ev.Err()) })
	return r
}

func (r *Results) begin(key any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[key] = r.clock.Now()
}

func (r *Results) end(key any) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, ok := r.started[key]
	if !ok {
		return 0
	}
	delete(r.started, key)
	return r.clock.Since(start)
}

func (r *Results) hook(ev event.Event, err error) {
	h, ok := ev.Arg(0).(*suite.Hook)
	if !ok {
		return
	}
	rec := core.Record{Kind: core.KindHook, Name: h.Title, Success: err == nil, Duration: r.end(h)}
	if err != nil {
		rec.Error = err.Error()
	}
	r.emit(rec)
}

func (r *Results) step(ev event.Event, err error) {
	st, ok := ev.Arg(0).(*step.Step)
	if !ok {
		return
	}
	rec := core.Record{
		Kind:     core.KindStep,
		Name:     st.String(),
		Action:   st.Name,
		Success:  err == nil,
		Duration: st.Duration(),
	}
	if n := st.Attempts(); n > 1 {
		rec.Retries = n - 1
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.emit(rec)
}

func (r *Results) emit(rec core.Record) {
	r.mu.Lock()
	rec.Worker = r.worker
	rec.Timestamp = r.clock.Now()
	if rec.Suite == "" {
		rec.Suite = r.suite
	}
	if rec.Test == "" && rec.Kind != core.KindSuite {
		rec.Test = r.test
	}
	r.mu.Unlock()
	r.rep.Report(rec)
}
