// Package actor builds the DSL surface ("I") that turns helper methods into
// steps scheduled on the recorder.
package actor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"conductor/internal/core"
	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/recorder"
	"conductor/internal/step"
)

// CustomStep is a user-defined action composed of other actions. Steps it
// schedules are grouped under a meta step named after it.
type CustomStep func(ctx context.Context, I *Actor, args ...any) error

// UnknownMethodError is thrown into the chain for an action no helper exposes.
type UnknownMethodError struct {
	Actor string
	Name  string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s.%s is not a function: no enabled helper provides it", e.Actor, e.Name)
}

type Options struct {
	// Name is printed in front of every step, "I" by default.
	Name string
	// Vocabulary maps translated aliases to canonical method names.
	Vocabulary  map[string]string
	CustomSteps map[string]CustomStep
	StepTimeout time.Duration
	DryRun      bool
	Clock       core.Clock
	Logger      *slog.Logger
}

// Actor dispatches actions to helpers through the recorder.
type Actor struct {
	name     string
	rec      *recorder.Recorder
	bus      *event.Bus
	bindings map[string]helper.Binding
	custom   map[string]CustomStep
	aliases  map[string]string
	opts     Options
	logger   *slog.Logger

	mu          sync.Mutex
	nextTimeout time.Duration
}

// New binds custom steps first, then every public helper method.
func New(reg *helper.Registry, rec *recorder.Recorder, bus *event.Bus, opts Options) *Actor {
	if opts.Name == "" {
		opts.Name = "I"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Actor{
		name:     opts.Name,
		rec:      rec,
		bus:      bus,
		bindings: map[string]helper.Binding{},
		custom:   map[string]CustomStep{},
		aliases:  map[string]string{},
		opts:     opts,
		logger:   logger.With(slog.String("component", "actor")),
	}
	for name, fn := range opts.CustomSteps {
		a.custom[name] = fn
	}
	if reg != nil {
		a.bindings = reg.Bindings()
	}
	for alias, canonical := range opts.Vocabulary {
		if !a.Has(canonical) {
			a.logger.Warn("vocabulary alias for unknown action", slog.String("alias", alias), slog.String("action", canonical))
			continue
		}
		a.aliases[alias] = canonical
	}
	return a
}

func (a *Actor) Name() string { return a.name }

// Has reports whether name resolves to an action.
func (a *Actor) Has(name string) bool {
	name = a.resolve(name)
	if _, ok := a.custom[name]; ok {
		return true
	}
	_, ok := a.bindings[name]
	return ok
}

// Methods lists every callable name, aliases included, sorted.
func (a *Actor) Methods() []string {
	seen := map[string]bool{}
	for n := range a.bindings {
		seen[n] = true
	}
	for n := range a.custom {
		seen[n] = true
	}
	for n := range a.aliases {
		seen[n] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (a *Actor) resolve(name string) string {
	if canonical, ok := a.aliases[name]; ok {
		return canonical
	}
	return name
}

// Do schedules an action. The returned future settles with the helper's
// result once the step has run; it is nil when the recorder is stopped.
func (a *Actor) Do(name string, args ...any) *recorder.Future {
	return a.DoContext(context.Background(), name, args...)
}

// DoContext is Do with ctx carrying the enclosing meta step, if any.
func (a *Actor) DoContext(ctx context.Context, name string, args ...any) *recorder.Future {
	name = a.resolve(name)
	if fn, ok := a.custom[name]; ok {
		return a.runCustom(ctx, name, fn, args)
	}
	b, ok := a.bindings[name]
	if !ok {
		return a.rec.Throw(&UnknownMethodError{Actor: a.name, Name: name})
	}
	return a.schedule(b, name, args)
}

func (a *Actor) schedule(b helper.Binding, name string, args []any) *recorder.Future {
	st := step.New(a.name, b.Helper.Name(), name, step.Func(b.Method.Fn), args...)
	st.DryRun = a.opts.DryRun
	st.Clock = a.opts.Clock
	st.Timeout = a.takeTimeout()

	a.bus.Emit(event.StepBefore, st)
	st.SetStatus(step.Queued)

	var opts []recorder.Option
	if b.Method.NoRetry {
		opts = append(opts, recorder.NoRetry())
	}
	res := a.rec.Add(st.String(), func(ctx context.Context) (any, error) {
		a.bus.Emit(event.StepStarted, st)
		return st.Run(ctx)
	}, opts...)

	// step.after fires at scheduling time; the outcome is reported below.
	a.bus.Emit(event.StepAfter, st)

	a.rec.Add("step passed", func(context.Context) (any, error) {
		val := res.Value()
		st.Finish(step.Success)
		a.bus.Emit(event.StepPassed, st, val)
		a.bus.Emit(event.StepFinished, st)
		return val, nil
	})
	a.rec.CatchWithoutStop(func(err error) error {
		if st.Attempts() == 0 {
			// skipped after an earlier failure
			return err
		}
		st.Finish(step.Failed)
		a.bus.Emit(event.StepFailed, st, err)
		a.bus.Emit(event.StepFinished, st)
		return err
	})
	return res
}

func (a *Actor) runCustom(ctx context.Context, name string, fn CustomStep, args []any) *recorder.Future {
	meta := step.NewMetaStep(a.name, name, args...)
	err := meta.Run(ctx, a.bus, func(ctx context.Context) error {
		return fn(ctx, a, args...)
	})
	if err != nil {
		return a.rec.Throw(err)
	}
	return a.rec.Promise()
}

func (a *Actor) takeTimeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.nextTimeout
	a.nextTimeout = 0
	if d == 0 {
		d = a.opts.StepTimeout
	}
	return d
}

// Say prints a message in order with the surrounding steps.
func (a *Actor) Say(msg string, attrs ...any) *recorder.Future {
	return a.rec.Add("say", func(context.Context) (any, error) {
		a.logger.Info(msg, attrs...)
		return nil, nil
	}, recorder.NoRetry())
}

// Retry applies p to the next step only.
func (a *Actor) Retry(p recorder.RetryPolicy) *Actor {
	a.rec.Retry(p)
	a.rec.Add("", func(context.Context) (any, error) {
		a.bus.Once(event.StepFinished, func(event.Event) { a.rec.PopRetry() })
		return nil, nil
	})
	return a
}

// LimitTime sets the timeout of the next step.
func (a *Actor) LimitTime(d time.Duration) *Actor {
	a.mu.Lock()
	a.nextTimeout = d
	a.mu.Unlock()
	return a
}
