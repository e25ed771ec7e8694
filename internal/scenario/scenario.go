// Package scenario runs tests and hooks on top of the recorder: it starts and
// stops recording, emits lifecycle events and turns every failure into a
// recorder rejection that is caught at the test or hook boundary.
package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"conductor/internal/container"
	"conductor/internal/event"
	"conductor/internal/recorder"
	"conductor/internal/suite"
)

type Config struct {
	// HookRetries is the retry count per hook slot.
	HookRetries map[suite.HookKind]int
	// TestRetries applies to tests and suites that do not set their own.
	TestRetries int
	// Timeout bounds a single test attempt; zero disables it.
	Timeout time.Duration
	Grep    *regexp.Regexp
	Invert  bool
	Logger  *slog.Logger
}

// HookError is returned by a failed hook.
type HookError struct {
	Hook *suite.Hook
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%q hook: %v", e.Hook.Title, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Runner executes suites against one recorder and bus.
type Runner struct {
	rec       *recorder.Recorder
	bus       *event.Bus
	container *container.Container
	cfg       Config
	logger    *slog.Logger
}

func New(rec *recorder.Recorder, bus *event.Bus, c *container.Container, cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c == nil {
		c = container.New()
	}
	return &Runner{
		rec:       rec,
		bus:       bus,
		container: c,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scenario")),
	}
}

// SuiteSetup starts a fresh recorder queue and announces the suite.
func (r *Runner) SuiteSetup(s *suite.Suite) {
	r.rec.Start()
	r.bus.Emit(event.SuiteBefore, s)
}

// SuiteTeardown announces the end of the suite.
func (r *Runner) SuiteTeardown(s *suite.Suite) {
	r.rec.StartUnlessRunning()
	r.bus.Emit(event.SuiteAfter, s)
}

// Setup prepares the recorder for a test and announces it.
func (r *Runner) Setup(t *suite.Test) {
	r.rec.StartUnlessRunning()
	r.bus.Emit(event.TestBefore, t)
}

// Teardown announces the end of a test.
func (r *Runner) Teardown(t *suite.Test) {
	r.rec.StartUnlessRunning()
	r.bus.Emit(event.TestAfter, t)
}

// Test wraps the body of t. The returned function schedules the body, waits
// for the chain to settle and resolves the outcome against t.Throws.
func (r *Runner) Test(t *suite.Test) func(ctx context.Context) suite.Outcome {
	return func(ctx context.Context) suite.Outcome {
		t.SetState(suite.Running)
		r.bus.Emit(event.TestStarted, t)

		if err := r.invoke(ctx, t.Fn, t, t.Suite, t.Data); err != nil {
			r.rec.Throw(err)
		}

		var (
			outcome suite.Outcome
			settled bool
		)
		r.rec.Add("fire test.passed", func(context.Context) (any, error) {
			outcome, settled = suite.Resolve(t.Throws, nil), true
			r.finish(t, outcome)
			return nil, nil
		}, recorder.NoRetry())
		r.rec.Catch(func(err error) error {
			outcome, settled = suite.Resolve(t.Throws, err), true
			r.finish(t, outcome)
			return nil
		})

		if err := r.rec.Wait(ctx); err == nil {
			// listeners of test.passed/test.failed may have queued more work
			err = r.rec.Wait(ctx)
			if err != nil {
				r.logger.Warn("test listeners failed", slog.String("test", t.FullTitle()), slog.String("error", err.Error()))
			}
		} else if !settled {
			r.rec.Stop()
			outcome = suite.Resolve(t.Throws, fmt.Errorf("test %q: %w", t.Title, err))
			r.finish(t, outcome)
		}
		return outcome
	}
}

func (r *Runner) finish(t *suite.Test, o suite.Outcome) {
	t.SetOutcome(o)
	if o.OK() {
		t.SetState(suite.Passed)
		r.bus.Emit(event.TestPassed, t)
	} else {
		t.SetState(suite.Failed)
		r.bus.Emit(event.TestFailed, t, o.Err)
	}
	r.bus.Emit(event.TestFinished, t)
}

// Injected wraps a hook function of slot kind for suite s.
func (r *Runner) Injected(fn any, s *suite.Suite, kind suite.HookKind) func(ctx context.Context) error {
	return r.hook(&suite.Hook{Kind: kind, Title: string(kind), Fn: fn, Suite: s})
}

func (r *Runner) hook(h *suite.Hook) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		retries := r.cfg.HookRetries[h.Kind]
		for attempt := 0; ; attempt++ {
			r.rec.StartUnlessRunning()
			r.bus.Emit(event.HookStarted, h)

			if err := r.invoke(ctx, h.Fn, h, h.Suite, h.Test); err != nil {
				r.rec.Throw(err)
			}
			var hookErr error
			r.rec.Catch(func(err error) error {
				hookErr = err
				return nil
			})
			if err := r.rec.Wait(ctx); err != nil && hookErr == nil {
				hookErr = err
			}
			if hookErr == nil {
				r.bus.Emit(event.HookPassed, h)
				return nil
			}
			if attempt < retries {
				r.logger.Info("retrying hook",
					slog.String("hook", h.Title),
					slog.Int("attempt", attempt+2),
					slog.String("error", hookErr.Error()))
				r.rec.Stop()
				r.rec.Start()
				continue
			}
			return r.hookFailed(ctx, h, hookErr)
		}
	}
}

// hookFailed reports a failed hook so outer reporting stays consistent.
func (r *Runner) hookFailed(ctx context.Context, h *suite.Hook, err error) error {
	r.rec.StartUnlessRunning()
	r.bus.Emit(event.HookFailed, h, err)
	switch h.Kind {
	case suite.Before:
		if h.Test != nil {
			r.bus.Emit(event.TestFailed, h.Test, err)
		}
	case suite.BeforeSuite:
		for _, t := range h.Suite.Tests {
			if r.runnable(t) {
				r.bus.Emit(event.TestFailed, t, err)
			}
		}
	case suite.After:
		if h.Test != nil {
			r.bus.Emit(event.TestAfter, h.Test)
		}
	case suite.AfterSuite:
		r.bus.Emit(event.SuiteAfter, h.Suite)
	}
	if werr := r.rec.Wait(ctx); werr != nil {
		r.logger.Warn("hook failure listeners failed", slog.String("hook", h.Title), slog.String("error", werr.Error()))
	}
	return &HookError{Hook: h, Err: err}
}

// invoke calls fn with injected arguments. Panics become errors.
func (r *Runner) invoke(ctx context.Context, fn any, extra ...any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = recorder.AsError("", rec)
		}
	}()
	args := make([]any, 0, len(extra)+1)
	args = append(args, ctx)
	for _, e := range extra {
		if e == nil || isNilPointer(e) {
			continue
		}
		args = append(args, e)
	}
	return r.container.Invoke(fn, args...)
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *suite.Test:
		return p == nil
	case *suite.Suite:
		return p == nil
	case *suite.Hook:
		return p == nil
	case map[string]any:
		return p == nil
	}
	return false
}
