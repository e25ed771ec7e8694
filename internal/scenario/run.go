package scenario

import (
	"context"
	"log/slog"
	"time"

	"conductor/internal/event"
	"conductor/internal/step"
	"conductor/internal/suite"
)

// Failure describes one failed test.
type Failure struct {
	Suite string
	Test  string
	Err   error
	Step  *step.Step
}

// Result summarizes a run. It is the payload of all.result.
type Result struct {
	Suites   int
	Tests    int
	Passed   int
	Failed   int
	Skipped  int
	Failures []Failure
	Duration time.Duration
}

// OK reports whether nothing failed.
func (res *Result) OK() bool { return res.Failed == 0 }

// Merge adds other into res.
func (res *Result) Merge(other *Result) {
	res.Suites += other.Suites
	res.Tests += other.Tests
	res.Passed += other.Passed
	res.Failed += other.Failed
	res.Skipped += other.Skipped
	res.Failures = append(res.Failures, other.Failures...)
}

// Run executes suites in order between all.before and all.after.
func (r *Runner) Run(ctx context.Context, suites ...*suite.Suite) *Result {
	i := 0
	return r.RunEach(ctx, func() (*suite.Suite, bool) {
		if i >= len(suites) {
			return nil, false
		}
		i++
		return suites[i-1], true
	})
}

// RunEach is Run for suites pulled from next until it reports false, so
// several runners can share one queue.
func (r *Runner) RunEach(ctx context.Context, next func() (*suite.Suite, bool)) *Result {
	start := time.Now()
	r.bus.Emit(event.AllBefore)
	res := &Result{}
	for ctx.Err() == nil {
		s, ok := next()
		if !ok {
			break
		}
		res.Merge(r.RunSuite(ctx, s))
	}
	r.bus.Emit(event.AllAfter)
	res.Duration = time.Since(start)
	r.bus.Emit(event.AllResult, res)
	return res
}

// RunSuite executes the hooks and selected tests of s.
func (r *Runner) RunSuite(ctx context.Context, s *suite.Suite) *Result {
	res := &Result{Suites: 1}
	var selected []*suite.Test
	for _, t := range s.Tests {
		if r.selected(t) {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		return res
	}

	logger := r.logger.With(slog.String("suite", s.Title))
	logger.Debug("suite started", slog.Int("tests", len(selected)))

	r.SuiteSetup(s)
	var setupErr error
	if err := r.rec.Wait(ctx); err != nil {
		setupErr = r.hookFailed(ctx, &suite.Hook{Kind: suite.BeforeSuite, Title: "suite setup", Suite: s}, err)
	}
	for _, h := range s.HooksOf(suite.BeforeSuite) {
		if setupErr != nil {
			break
		}
		setupErr = r.hook(h)(ctx)
	}

	for _, t := range selected {
		res.Tests++
		switch {
		case t.Skip || s.Skip:
			t.SetState(suite.Skipped)
			res.Skipped++
			r.bus.Emit(event.TestSkipped, t)
			continue
		case setupErr != nil:
			t.NextAttempt()
			t.SetOutcome(suite.Outcome{Kind: suite.OutcomeFailed, Err: setupErr})
			t.SetState(suite.Failed)
			r.bus.Emit(event.TestFinished, t)
		default:
			r.runTest(ctx, t)
		}
		if t.Outcome().OK() {
			res.Passed++
			continue
		}
		res.Failed++
		res.Failures = append(res.Failures, Failure{
			Suite: s.Title,
			Test:  t.Title,
			Err:   t.Err(),
			Step:  t.FailedStep(),
		})
	}

	teardownFailed := false
	for _, h := range s.HooksOf(suite.AfterSuite) {
		if err := r.hook(h)(ctx); err != nil {
			teardownFailed = true
			logger.Warn("AfterSuite hook failed", slog.String("error", err.Error()))
		}
	}
	if !teardownFailed {
		r.SuiteTeardown(s)
		if err := r.rec.Wait(ctx); err != nil {
			logger.Warn("suite teardown failed", slog.String("error", err.Error()))
		}
	}
	r.rec.Stop()
	return res
}

func (r *Runner) selected(t *suite.Test) bool {
	if r.cfg.Grep == nil {
		return true
	}
	return r.cfg.Grep.MatchString(t.GrepTitle()) != r.cfg.Invert
}

// runnable reports whether t is selected and not skipped.
func (r *Runner) runnable(t *suite.Test) bool {
	return r.selected(t) && !t.Skip && (t.Suite == nil || !t.Suite.Skip)
}

func (r *Runner) retriesFor(t *suite.Test) int {
	switch {
	case t.Retries >= 0:
		return t.Retries
	case t.Suite != nil && t.Suite.Retries > 0:
		return t.Suite.Retries
	default:
		return r.cfg.TestRetries
	}
}

func (r *Runner) timeoutFor(t *suite.Test) time.Duration {
	switch {
	case t.Timeout > 0:
		return t.Timeout
	case t.Suite != nil && t.Suite.Timeout > 0:
		return t.Suite.Timeout
	default:
		return r.cfg.Timeout
	}
}

// runTest drives one test through its lifecycle, retrying failed attempts.
func (r *Runner) runTest(ctx context.Context, t *suite.Test) {
	retries := r.retriesFor(t)
	for {
		attempt := t.NextAttempt()
		r.attempt(ctx, t)
		if t.Outcome().OK() || attempt > retries || ctx.Err() != nil {
			return
		}
		r.logger.Info("retrying test",
			slog.String("test", t.FullTitle()),
			slog.Int("attempt", attempt+1),
			slog.String("error", t.Err().Error()))
	}
}

func (r *Runner) attempt(ctx context.Context, t *suite.Test) {
	s := t.Suite
	r.rec.Reset()
	r.Setup(t)
	t.SetState(suite.BeforeHooks)

	var beforeErr error
	for _, h := range s.HooksOf(suite.Before) {
		if beforeErr = r.hook(forTest(h, t))(ctx); beforeErr != nil {
			break
		}
	}

	if beforeErr != nil {
		t.SetOutcome(suite.Outcome{Kind: suite.OutcomeFailed, Err: beforeErr})
		t.SetState(suite.Failed)
		r.bus.Emit(event.TestFinished, t)
	} else {
		tctx, cancel := ctx, context.CancelFunc(func() {})
		if d := r.timeoutFor(t); d > 0 {
			tctx, cancel = context.WithTimeout(ctx, d)
		}
		r.Test(t)(tctx)
		cancel()
	}

	t.SetState(suite.AfterHooks)
	afterFailed := false
	for _, h := range s.HooksOf(suite.After) {
		if err := r.hook(forTest(h, t))(ctx); err != nil {
			afterFailed = true
			if t.Outcome().OK() {
				t.SetOutcome(suite.Outcome{Kind: suite.OutcomeFailed, Err: err})
			}
		}
	}
	if !afterFailed {
		r.Teardown(t)
		if err := r.rec.Wait(ctx); err != nil {
			r.logger.Warn("test teardown failed", slog.String("test", t.FullTitle()), slog.String("error", err.Error()))
		}
	}
	t.SetState(suite.Finished)
}

func forTest(h *suite.Hook, t *suite.Test) *suite.Hook {
	bound := *h
	bound.Test = t
	return &bound
}
