// Package suite holds the data model of suites, tests and hooks.
package suite

import (
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/internal/step"
)

// HookKind names a hook slot.
type HookKind string

const (
	BeforeSuite HookKind = "BeforeSuite"
	AfterSuite  HookKind = "AfterSuite"
	Before      HookKind = "Before"
	After       HookKind = "After"
)

// Suite is a titled group of tests sharing hooks.
type Suite struct {
	ID      string
	Title   string
	File    string
	Tags    []string
	Tests   []*Test
	Hooks   []*Hook
	Retries int
	Timeout time.Duration
	Skip    bool
}

func New(title string) *Suite {
	return &Suite{ID: uuid.NewString(), Title: title, Tags: tagsOf(title)}
}

// Add appends a test and links it to s.
func (s *Suite) Add(t *Test) *Test {
	t.Suite = s
	s.Tests = append(s.Tests, t)
	return t
}

// Scenario is shorthand for Add(NewTest(title, fn)).
func (s *Suite) Scenario(title string, fn any) *Test {
	return s.Add(NewTest(title, fn))
}

// Hook registers fn in slot kind.
func (s *Suite) Hook(kind HookKind, fn any) *Hook {
	h := &Hook{Kind: kind, Fn: fn, Suite: s, Title: string(kind)}
	s.Hooks = append(s.Hooks, h)
	return h
}

// HooksOf returns the hooks in slot kind in registration order.
func (s *Suite) HooksOf(kind HookKind) []*Hook {
	var out []*Hook
	for _, h := range s.Hooks {
		if h.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}

// Hook is a Before/After/BeforeSuite/AfterSuite function.
type Hook struct {
	Kind  HookKind
	Title string
	Fn    any
	Suite *Suite
	// Test is the test an After/Before hook runs for, if any.
	Test *Test
}

// State is the position of a test in its lifecycle.
type State string

const (
	Pending     State = "pending"
	BeforeHooks State = "before-hooks"
	Running     State = "running"
	Passed      State = "passed"
	Failed      State = "failed"
	AfterHooks  State = "after-hooks"
	Finished    State = "finished"
	Skipped     State = "skipped"
)

// Test is one scenario.
type Test struct {
	ID      string
	Title   string
	Fn      any
	Suite   *Suite
	Tags    []string
	Retries int // -1 inherits from the suite or configuration
	Timeout time.Duration
	Throws  *Throws
	Skip    bool
	Data    map[string]any

	mu         sync.Mutex
	state      State
	outcome    Outcome
	attempt    int
	steps      []*step.Step
	failedStep *step.Step
	startTime  time.Time
	duration   time.Duration
}

func NewTest(title string, fn any) *Test {
	return &Test{
		ID:      uuid.NewString(),
		Title:   title,
		Fn:      fn,
		Tags:    tagsOf(title),
		Retries: -1,
		state:   Pending,
	}
}

// FullTitle prefixes the suite title.
func (t *Test) FullTitle() string {
	if t.Suite == nil || t.Suite.Title == "" {
		return t.Title
	}
	return t.Suite.Title + ": " + t.Title
}

// GrepTitle is the text grep patterns match: the full title followed by any
// suite or test tag the titles do not already carry.
func (t *Test) GrepTitle() string {
	title := t.FullTitle()
	for _, tag := range t.AllTags() {
		if !strings.Contains(title, tag) {
			title += " " + tag
		}
	}
	return title
}

// AllTags returns the suite tags followed by the test's own, without
// duplicates.
func (t *Test) AllTags() []string {
	var tags []string
	if t.Suite != nil {
		tags = append(tags, t.Suite.Tags...)
	}
	for _, tag := range t.Tags {
		if !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// HasTag reports whether the test or its suite carries tag.
func (t *Test) HasTag(tag string) bool {
	return slices.Contains(t.AllTags(), "@"+strings.TrimPrefix(tag, "@"))
}

func (t *Test) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == Running && t.startTime.IsZero() {
		t.startTime = time.Now()
	}
	if s == Finished && !t.startTime.IsZero() {
		t.duration = time.Since(t.startTime)
	}
	t.state = s
}

func (t *Test) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Test) SetOutcome(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcome = o
}

func (t *Test) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Err is the error the test failed with, nil when it passed.
func (t *Test) Err() error {
	o := t.Outcome()
	if o.OK() {
		return nil
	}
	return o.Err
}

// NextAttempt starts a new attempt and clears per-attempt data.
func (t *Test) NextAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	t.steps = nil
	t.failedStep = nil
	t.outcome = Outcome{}
	t.startTime = time.Time{}
	t.duration = 0
	return t.attempt
}

// Attempt is 1 for the first run.
func (t *Test) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// AddStep records a step executed by the test.
func (t *Test) AddStep(s *step.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, s)
}

func (t *Test) Steps() []*step.Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*step.Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// SetFailedStep keeps the first failing step.
func (t *Test) SetFailedStep(s *step.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failedStep == nil {
		t.failedStep = s
	}
}

func (t *Test) FailedStep() *step.Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedStep
}

func (t *Test) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

var tagPattern = regexp.MustCompile(`@[\w-]+`)

func tagsOf(title string) []string {
	return tagPattern.FindAllString(title, -1)
}
