// Package effects provides block-level control over the recorder: tryTo,
// retryTo, within and session. Each one runs its block in a nested recorder
// session and merges the outcome back into the enclosing chain.
package effects

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"conductor/internal/core"
	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/recorder"
	"conductor/internal/step"
)

// Block schedules steps; ctx carries the enclosing meta step.
type Block func(ctx context.Context) error

// RetryBlock is a Block told which attempt it is, starting at 1.
type RetryBlock func(ctx context.Context, try int) error

type Effects struct {
	rec     *recorder.Recorder
	bus     *event.Bus
	helpers *helper.Registry
	logger  *slog.Logger

	// Clock paces the polls of RetryTo. Nil uses the wall clock.
	Clock core.Clock
}

func New(rec *recorder.Recorder, bus *event.Bus, helpers *helper.Registry, logger *slog.Logger) *Effects {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if helpers == nil {
		helpers, _ = helper.NewRegistry()
	}
	return &Effects{rec: rec, bus: bus, helpers: helpers, logger: logger.With(slog.String("component", "effects"))}
}

// isolate runs block in a named session and waits for it inline. It returns
// the error the session was rejected with; the enclosing chain is untouched.
func (e *Effects) isolate(ctx context.Context, name string, before, after recorder.Func, block Block) (failed error, err error) {
	e.rec.Session.Start(name)
	if before != nil {
		e.rec.Add(name+": begin", before, recorder.NoRetry())
	}
	if berr := callBlock(ctx, block); berr != nil {
		e.rec.Throw(berr)
	}
	e.rec.Session.Catch(func(cause error) error {
		failed = cause
		return nil
	})
	if after != nil {
		e.rec.Add(name+": end", after, recorder.NoRetry())
	}
	tail := e.rec.Promise()
	e.rec.Session.Restore(name)
	_, err = tail.Wait(ctx)
	return failed, err
}

// TryTo runs block and settles with false if it failed, true otherwise. A
// failure never rejects the enclosing chain.
func (e *Effects) TryTo(block Block) *recorder.Future {
	return e.rec.Add("tryTo", func(ctx context.Context) (any, error) {
		failed, err := e.isolate(ctx, "tryTo", nil, nil, block)
		if err != nil {
			return false, err
		}
		if failed != nil {
			e.logger.Debug("tryTo block failed", slog.String("error", failed.Error()))
			return false, nil
		}
		return true, nil
	}, recorder.NoRetry())
}

// RetryTo runs block up to maxTries times, pausing poll between attempts. The
// last failure rejects the enclosing chain.
func (e *Effects) RetryTo(block RetryBlock, maxTries int, poll time.Duration) *recorder.Future {
	if maxTries < 1 {
		maxTries = 1
	}
	return e.rec.Add("retryTo", func(ctx context.Context) (any, error) {
		var last error
		for try := 1; try <= maxTries; try++ {
			try := try
			failed, err := e.isolate(ctx, "retryTo", nil, nil, func(ctx context.Context) error {
				return block(ctx, try)
			})
			if err != nil {
				return nil, err
			}
			if failed == nil {
				return try, nil
			}
			last = failed
			if try == maxTries {
				break
			}
			e.logger.Info("retryTo attempt failed",
				slog.Int("try", try),
				slog.Int("maxTries", maxTries),
				slog.String("error", failed.Error()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.clock().After(poll):
			}
		}
		return nil, fmt.Errorf("retryTo: failed after %d tries: %w", maxTries, last)
	}, recorder.NoRetry())
}

func (e *Effects) clock() core.Clock {
	if e.Clock == nil {
		return core.RealClock{}
	}
	return e.Clock
}

// Within scopes helper actions to locator. Steps scheduled by block are
// grouped under a "Within" meta step. A failure inside is logged and marks the
// meta step failed; the enclosing test goes on.
func (e *Effects) Within(locator string, block Block) *recorder.Future {
	return e.rec.Add("within "+locator, func(ctx context.Context) (any, error) {
		meta := step.NewMetaStep("", "Within", locator)
		begin := func(ctx context.Context) (any, error) {
			return nil, helper.Each(e.helpers, func(_ string, h helper.WithinAware) error {
				return h.WithinBegin(ctx, locator)
			})
		}
		end := func(ctx context.Context) (any, error) {
			return nil, helper.Each(e.helpers, func(_ string, h helper.WithinAware) error {
				return h.WithinEnd(ctx)
			})
		}
		failed, err := e.isolate(ctx, "within", begin, end, func(ctx context.Context) error {
			return meta.Run(ctx, e.bus, block)
		})
		if failed != nil {
			meta.SetStatus(step.Failed)
			e.logger.Warn("within block failed",
				slog.String("locator", locator),
				slog.String("error", failed.Error()))
		}
		return nil, err
	}, recorder.NoRetry())
}

// Session runs block in the named helper session, switching back afterwards.
// Failures propagate to the enclosing chain.
func (e *Effects) Session(name string, block Block) *recorder.Future {
	return e.rec.Add("session "+name, func(ctx context.Context) (any, error) {
		begin := func(ctx context.Context) (any, error) {
			return nil, helper.Each(e.helpers, func(_ string, h helper.SessionAware) error {
				return h.SessionStart(ctx, name)
			})
		}
		end := func(ctx context.Context) (any, error) {
			return nil, helper.Each(e.helpers, func(_ string, h helper.SessionAware) error {
				return h.SessionEnd(ctx, name)
			})
		}
		failed, err := e.isolate(ctx, "session:"+name, begin, end, block)
		if err != nil {
			return nil, err
		}
		return nil, failed
	}, recorder.NoRetry())
}

func callBlock(ctx context.Context, block Block) (err error) {
	if block == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = recorder.AsError("", rec)
		}
	}()
	return block(ctx)
}
