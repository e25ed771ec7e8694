// Package listener connects helpers, tests and reporters to the event bus.
package listener

import (
	"context"
	"io"
	"log/slog"

	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/recorder"
	"conductor/internal/step"
	"conductor/internal/suite"
)

// Subscriptions groups registered listeners so they can be removed together.
type Subscriptions struct {
	bus  *event.Bus
	subs []event.Subscription
}

func (s *Subscriptions) on(ch event.Channel, fn event.Listener) {
	s.subs = append(s.subs, s.bus.On(ch, fn))
}

// Close removes every listener.
func (s *Subscriptions) Close() {
	for _, sub := range s.subs {
		s.bus.RemoveListener(sub)
	}
	s.subs = nil
}

func discard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

// Helpers invokes helper lifecycle hooks as recorder tasks, so their failures
// travel through the same chain as steps. Hooks running after a failure are
// forced onto a stopped recorder.
func Helpers(reg *helper.Registry, rec *recorder.Recorder, bus *event.Bus, logger *slog.Logger) *Subscriptions {
	logger = discard(logger).With(slog.String("component", "helpers"))
	s := &Subscriptions{bus: bus}

	schedule := func(name string, force bool, fn func(ctx context.Context) error) {
		opts := []recorder.Option{recorder.NoRetry()}
		if force {
			opts = append(opts, recorder.Force())
		}
		rec.Add("helpers: "+name, func(ctx context.Context) (any, error) {
			if err := fn(ctx); err != nil {
				logger.Debug("helper hook failed", slog.String("hook", name), slog.String("error", err.Error()))
				return nil, err
			}
			return nil, nil
		}, opts...)
	}

	s.on(event.SuiteBefore, func(ev event.Event) {
		title := suiteTitle(ev)
		schedule("BeforeSuite", true, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.BeforeSuite) error { return h.BeforeSuite(ctx, title) })
		})
	})
	s.on(event.SuiteAfter, func(ev event.Event) {
		title := suiteTitle(ev)
		schedule("AfterSuite", true, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.AfterSuite) error { return h.AfterSuite(ctx, title) })
		})
	})
	s.on(event.TestBefore, func(ev event.Event) {
		title := testTitle(ev)
		schedule("Before", false, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.Before) error { return h.Before(ctx, title) })
		})
	})
	s.on(event.TestStarted, func(ev event.Event) {
		title := testTitle(ev)
		schedule("Test", false, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.Test) error { return h.Test(ctx, title) })
		})
	})
	s.on(event.TestPassed, func(ev event.Event) {
		title := testTitle(ev)
		schedule("Passed", true, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.Passed) error { return h.Passed(ctx, title) })
		})
	})
	s.on(event.TestFailed, func(ev event.Event) {
		title, cause := testTitle(ev), ev.Err()
		schedule("Failed", true, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.Failed) error { return h.Failed(ctx, title, cause) })
		})
	})
	s.on(event.TestAfter, func(ev event.Event) {
		title := testTitle(ev)
		schedule("After", true, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.After) error { return h.After(ctx, title) })
		})
	})
	s.on(event.TestFinished, func(ev event.Event) {
		title := testTitle(ev)
		schedule("FinishTest", true, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.FinishTest) error { return h.FinishTest(ctx, title) })
		})
	})
	s.on(event.StepBefore, func(ev event.Event) {
		name := stepName(ev)
		schedule("BeforeStep", false, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.BeforeStep) error { return h.BeforeStep(ctx, name) })
		})
	})
	s.on(event.StepAfter, func(ev event.Event) {
		name := stepName(ev)
		schedule("AfterStep", false, func(ctx context.Context) error {
			return helper.Each(reg, func(_ string, h helper.AfterStep) error { return h.AfterStep(ctx, name) })
		})
	})
	return s
}

// InitHelpers calls Init on every helper that has one.
func InitHelpers(ctx context.Context, reg *helper.Registry) error {
	return helper.Each(reg, func(_ string, h helper.Initializer) error { return h.Init(ctx) })
}

func suiteTitle(ev event.Event) string {
	if s, ok := ev.Arg(0).(*suite.Suite); ok && s != nil {
		return s.Title
	}
	return ""
}

func testTitle(ev event.Event) string {
	if t, ok := ev.Arg(0).(*suite.Test); ok && t != nil {
		return t.FullTitle()
	}
	return ""
}

func stepName(ev event.Event) string {
	if st, ok := ev.Arg(0).(*step.Step); ok && st != nil {
		return st.String()
	}
	return ""
}
