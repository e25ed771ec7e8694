// Package step models one tracked invocation of a helper method.
package step

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/internal/core"
	"conductor/internal/recorder"
)

// Status is the lifecycle state of a step.
type Status string

const (
	Pending Status = "pending"
	Queued  Status = "queued"
	Success Status = "success"
	Failed  Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool { return s == Success || s == Failed }

// Func is a bound helper method.
type Func func(ctx context.Context, args ...any) (any, error)

// Step captures actor, method and arguments of a single call.
type Step struct {
	ID      string
	Actor   string
	Helper  string
	Name    string
	Args    []any
	Stack   string
	Timeout time.Duration
	DryRun  bool
	Clock   core.Clock

	// MetaStep is a display link to the enclosing logical step; it never owns
	// the step.
	MetaStep *MetaStep

	fn        Func
	mu        sync.Mutex
	status    Status
	final     bool
	attempts  int
	startTime time.Time
	endTime   time.Time
}

// New creates a pending step bound to fn. The call site is captured for
// failure reports.
func New(actor, helper, name string, fn Func, args ...any) *Step {
	if actor == "" {
		actor = "I"
	}
	return &Step{
		ID:     uuid.NewString(),
		Actor:  actor,
		Helper: helper,
		Name:   name,
		Args:   args,
		Stack:  callers(),
		fn:     fn,
		status: Pending,
	}
}

func (s *Step) clock() core.Clock {
	if s.Clock == nil {
		return core.RealClock{}
	}
	return s.Clock
}

// Run invokes the bound method once. It may be called again by a retry policy.
func (s *Step) Run(ctx context.Context) (any, error) {
	s.mu.Lock()
	s.attempts++
	if s.startTime.IsZero() {
		s.startTime = s.clock().Now()
	}
	s.mu.Unlock()

	if s.DryRun || s.fn == nil {
		s.SetStatus(Success)
		return nil, nil
	}

	val, err := s.call(ctx)
	if err != nil {
		s.SetStatus(Failed)
		return nil, err
	}
	s.SetStatus(Success)
	return val, nil
}

func (s *Step) call(ctx context.Context) (any, error) {
	if s.Timeout <= 0 {
		return s.invoke(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := s.invoke(tctx)
		done <- result{v, err}
	}()
	select {
	case res := <-done:
		if res.err != nil && tctx.Err() != nil && ctx.Err() == nil {
			return nil, &recorder.TimeoutError{Task: s.String(), After: s.Timeout}
		}
		return res.val, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &recorder.TimeoutError{Task: s.String(), After: s.Timeout}
	}
}

func (s *Step) invoke(ctx context.Context) (val any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			val, err = nil, &ExecutionError{Step: s.String(), Value: rec, Stack: s.Stack}
		}
	}()
	return s.fn(ctx, Reveal(s.Args)...)
}

// SetStatus records a transition and propagates it to the meta step.
// It is ignored once the step is finished.
func (s *Step) SetStatus(st Status) {
	s.mu.Lock()
	if s.final {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()
}

// LinkMeta sets the meta step unless one is already linked.
func (s *Step) LinkMeta(m *MetaStep) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MetaStep != nil {
		return false
	}
	s.MetaStep = m
	return true
}

// Meta returns the linked meta step, if any.
func (s *Step) Meta() *MetaStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MetaStep
}

// Finish freezes the step in status st and reports it to the meta step.
// Attempts that failed before a successful retry never reach the meta step.
func (s *Step) Finish(st Status) {
	s.mu.Lock()
	if s.final {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.final = true
	s.endTime = s.clock().Now()
	if s.startTime.IsZero() {
		s.startTime = s.endTime
	}
	meta := s.MetaStep
	s.mu.Unlock()
	if meta != nil && st.Terminal() {
		meta.SetStatus(st)
	}
}

func (s *Step) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Attempts returns how many times Run was called.
func (s *Step) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Step) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

func (s *Step) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}

// Duration is zero until the step is finished.
func (s *Step) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return 0
	}
	return s.endTime.Sub(s.startTime)
}

// HumanizedName turns a camelCase method name into words.
func (s *Step) HumanizedName() string { return Humanize(s.Name) }

// HumanizedArgs renders the arguments with secrets masked.
func (s *Step) HumanizedArgs() string { return HumanizeArgs(s.Args) }

// Line returns the first captured call site as file:line.
func (s *Step) Line() string {
	first, _, _ := strings.Cut(s.Stack, "\n")
	_, loc, _ := strings.Cut(first, " ")
	return loc
}

func (s *Step) String() string {
	args := s.HumanizedArgs()
	if args == "" {
		return s.Actor + " " + s.HumanizedName()
	}
	return s.Actor + " " + s.HumanizedName() + " " + args
}

// Humanize splits camelCase into lower-case words: seeElement -> see element.
func Humanize(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if r == '_' {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HumanizeArgs formats call arguments for logs and reports.
func HumanizeArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case Secret:
			parts = append(parts, masked)
		case string:
			parts = append(parts, fmt.Sprintf("%q", v))
		case nil:
			parts = append(parts, "null")
		case fmt.Stringer:
			parts = append(parts, v.String())
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, ", ")
}

var internalFrames = []string{
	"conductor/internal/step.",
	"conductor/internal/actor.",
	"conductor/internal/recorder.",
	"runtime.",
}

// callers captures the call stack outside the engine's own frames.
func callers() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		f, more := frames.Next()
		if !skipFrame(f) {
			fmt.Fprintf(&b, "%s %s:%d\n", f.Function, f.File, f.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func skipFrame(f runtime.Frame) bool {
	if strings.HasSuffix(f.File, "_test.go") {
		return false
	}
	for _, p := range internalFrames {
		if strings.HasPrefix(f.Function, p) {
			return true
		}
	}
	return false
}
