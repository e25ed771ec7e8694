package telemetry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"conductor/internal/event"
	"conductor/internal/step"
	"conductor/internal/suite"
)

const tracerName = "conductor"

var (
	AttrWorker  = attribute.Key("conductor.worker")
	AttrSuite   = attribute.Key("conductor.suite")
	AttrTest    = attribute.Key("conductor.test")
	AttrTags    = attribute.Key("conductor.tags")
	AttrAttempt = attribute.Key("conductor.attempt")
	AttrHelper  = attribute.Key("conductor.step.helper")
	AttrAction  = attribute.Key("conductor.step.action")
	AttrArgs    = attribute.Key("conductor.step.args")
	AttrHook    = attribute.Key("conductor.hook")
)

// NewTracerProvider exports spans as JSON lines to w.
func NewTracerProvider(w io.Writer, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// Tracing turns the lifecycle of every worker into a span tree:
// suite > test > step, with hooks under the suite or test they run for.
type Tracing struct {
	tracer trace.Tracer
}

func NewTracing(tp trace.TracerProvider) *Tracing {
	return &Tracing{tracer: tp.Tracer(tracerName)}
}

// spans tracks the open spans of one worker.
type spans struct {
	mu    sync.Mutex
	suite context.Context
	test  context.Context
	open  map[any]trace.Span
}

func (s *spans) parent() context.Context {
	switch {
	case s.test != nil:
		return s.test
	case s.suite != nil:
		return s.suite
	default:
		return context.Background()
	}
}

func (s *spans) take(key any) (trace.Span, bool) {
	sp, ok := s.open[key]
	delete(s.open, key)
	return sp, ok
}

func (tr *Tracing) Attach(bus *event.Bus, worker int) {
	s := &spans{open: map[any]trace.Span{}}
	workerAttr := AttrWorker.Int(worker)

	bus.On(event.SuiteBefore, func(ev event.Event) {
		su, ok := ev.Arg(0).(*suite.Suite)
		if !ok {
			return
		}
		ctx, sp := tr.tracer.Start(context.Background(), "suite "+su.Title,
			trace.WithAttributes(workerAttr, AttrSuite.String(su.Title), AttrTags.StringSlice(su.Tags)))
		s.mu.Lock()
		s.suite = ctx
		s.open[su] = sp
		s.mu.Unlock()
	})
	bus.On(event.SuiteAfter, func(ev event.Event) {
		s.mu.Lock()
		sp, ok := s.take(ev.Arg(0))
		s.suite = nil
		s.mu.Unlock()
		if ok {
			sp.End()
		}
	})

	bus.On(event.TestStarted, func(ev event.Event) {
		t, ok := ev.Arg(0).(*suite.Test)
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx, sp := tr.tracer.Start(s.parent(), "test "+t.Title, trace.WithAttributes(
			workerAttr,
			AttrTest.String(t.FullTitle()),
			AttrTags.StringSlice(t.Tags),
			AttrAttempt.Int(t.Attempt()),
		))
		s.test = ctx
		s.open[t] = sp
	})
	bus.On(event.TestFailed, func(ev event.Event) {
		s.mu.Lock()
		sp, ok := s.open[ev.Arg(0)]
		s.mu.Unlock()
		if ok && ev.Err() != nil {
			sp.RecordError(ev.Err())
			sp.SetStatus(codes.Error, ev.Err().Error())
		}
	})
	bus.On(event.TestFinished, func(ev event.Event) {
		s.mu.Lock()
		sp, ok := s.take(ev.Arg(0))
		s.test = nil
		s.mu.Unlock()
		if !ok {
			return
		}
		if t, isTest := ev.Arg(0).(*suite.Test); isTest && t.Outcome().OK() {
			sp.SetStatus(codes.Ok, "")
		}
		sp.End()
	})

	bus.On(event.StepStarted, func(ev event.Event) {
		st, ok := ev.Arg(0).(*step.Step)
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if sp, retry := s.open[st]; retry {
			sp.AddEvent("retry", trace.WithAttributes(AttrAttempt.Int(st.Attempts()+1)))
			return
		}
		_, sp := tr.tracer.Start(s.parent(), st.String(), trace.WithAttributes(
			workerAttr,
			AttrHelper.String(st.Helper),
			AttrAction.String(st.Name),
			AttrArgs.String(st.HumanizedArgs()),
		))
		s.open[st] = sp
	})
	bus.On(event.StepPassed, func(ev event.Event) { tr.end(s, ev, nil) })
	bus.On(event.StepFailed, func(ev event.Event) { tr.end(s, ev, ev.Err()) })

	bus.On(event.HookStarted, func(ev event.Event) {
		h, ok := ev.Arg(0).(*suite.Hook)
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if sp, retry := s.open[h]; retry {
			sp.AddEvent("retry")
			return
		}
		_, sp := tr.tracer.Start(s.parent(), "hook "+h.Title,
			trace.WithAttributes(workerAttr, AttrHook.String(string(h.Kind))))
		s.open[h] = sp
	})
	bus.On(event.HookPassed, func(ev event.Event) { tr.end(s, ev, nil) })
	bus.On(event.HookFailed, func(ev event.Event) { tr.end(s, ev, ev.Err()) })
}

// end closes the span keyed by the event's first argument.
func (tr *Tracing) end(s *spans, ev event.Event, err error) {
	s.mu.Lock()
	sp, ok := s.take(ev.Arg(0))
	s.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
	}
	sp.End()
}
