package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/actor"
	"conductor/internal/container"
	"conductor/internal/core"
	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/recorder"
	"conductor/internal/scenario"
	"conductor/internal/suite"
)

var errMissing = errors.New("missing")

// lifecycle implements every helper hook and records the calls.
type lifecycle struct {
	log   []string
	cause error
}

func (l *lifecycle) Name() string { return "lifecycle" }

func (l *lifecycle) Methods() []helper.Method {
	return []helper.Method{{Name: "see", Fn: func(_ context.Context, args ...any) (any, error) {
		l.log = append(l.log, "see")
		if args[0] == "missing" {
			return nil, errMissing
		}
		return nil, nil
	}}}
}

func (l *lifecycle) record(name string) error {
	l.log = append(l.log, name)
	return nil
}

func (l *lifecycle) Init(context.Context) error                { return l.record("Init") }
func (l *lifecycle) BeforeSuite(context.Context, string) error { return l.record("BeforeSuite") }
func (l *lifecycle) AfterSuite(context.Context, string) error  { return l.record("AfterSuite") }
func (l *lifecycle) Before(context.Context, string) error      { return l.record("Before") }
func (l *lifecycle) Test(context.Context, string) error        { return l.record("Test") }
func (l *lifecycle) Passed(context.Context, string) error      { return l.record("Passed") }
func (l *lifecycle) After(context.Context, string) error       { return l.record("After") }
func (l *lifecycle) BeforeStep(context.Context, string) error  { return l.record("BeforeStep") }
func (l *lifecycle) AfterStep(context.Context, string) error   { return l.record("AfterStep") }
func (l *lifecycle) FinishTest(context.Context, string) error  { return l.record("FinishTest") }

func (l *lifecycle) Failed(_ context.Context, _ string, cause error) error {
	l.cause = cause
	return l.record("Failed")
}

type harness struct {
	runner  *scenario.Runner
	helper  *lifecycle
	reg     *helper.Registry
	steps   *Steps
	records []core.Record
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{helper: &lifecycle{}}
	reg, err := helper.NewRegistry(h.helper)
	require.NoError(t, err)
	h.reg = reg
	rec := recorder.New(nil)
	bus := event.NewBus(nil)
	c := container.New()
	c.Register("I", actor.New(reg, rec, bus, actor.Options{}))
	Helpers(reg, rec, bus, nil)
	h.steps = TrackSteps(bus, nil)
	ReportResults(bus, core.ReporterFunc(func(r core.Record) { h.records = append(h.records, r) }), 3, nil)
	h.runner = scenario.New(rec, bus, c, scenario.Config{})
	return h
}

func TestHelpers_PassingTestOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, InitHelpers(context.Background(), h.reg))
	s := suite.New("Suite")
	s.Scenario("ok", func(I *actor.Actor) { I.Do("see", "Welcome") })

	h.runner.RunSuite(context.Background(), s)

	assert.Equal(t, []string{
		"Init", "BeforeSuite", "Before", "Test", "BeforeStep", "see", "AfterStep",
		"Passed", "FinishTest", "After", "AfterSuite",
	}, h.helper.log)
}

func TestHelpers_FailedTestRunsForcedHooks(t *testing.T) {
	h := newHarness(t)
	s := suite.New("Suite")
	tt := s.Scenario("fails", func(I *actor.Actor) { I.Do("see", "missing") })

	h.runner.RunSuite(context.Background(), s)

	assert.Equal(t, []string{
		"BeforeSuite", "Before", "Test", "BeforeStep", "see",
		"Failed", "FinishTest", "After", "AfterSuite",
	}, h.helper.log)
	assert.Same(t, errMissing, h.helper.cause)
	require.NotNil(t, tt.FailedStep())
	assert.Equal(t, `I see "missing"`, tt.FailedStep().String())
	assert.Len(t, tt.Steps(), 1)
	assert.Nil(t, h.steps.Current())
}

func TestResults_Records(t *testing.T) {
	h := newHarness(t)
	s := suite.New("Suite")
	s.Hook(suite.Before, func() {})
	s.Scenario("fails", func(I *actor.Actor) {
		I.Do("see", "ok")
		I.Do("see", "missing")
	})

	h.runner.RunSuite(context.Background(), s)

	var kinds []core.Kind
	for _, r := range h.records {
		kinds = append(kinds, r.Kind)
		assert.Equal(t, 3, r.Worker)
		assert.Equal(t, "Suite", r.Suite)
	}
	assert.Equal(t, []core.Kind{core.KindHook, core.KindStep, core.KindStep, core.KindTest, core.KindSuite}, kinds)

	failedStep := h.records[2]
	assert.False(t, failedStep.Success)
	assert.Equal(t, "missing", failedStep.Error)
	assert.Equal(t, "fails", failedStep.Test)

	test := h.records[3]
	assert.False(t, test.Success)
	assert.Equal(t, "missing", test.Error)
}

func TestResults_SkippedTest(t *testing.T) {
	h := newHarness(t)
	s := suite.New("Suite")
	s.Scenario("runs", func() {})
	s.Scenario("later", func() {}).Skip = true

	h.runner.RunSuite(context.Background(), s)

	var skipped []core.Record
	for _, r := range h.records {
		if r.Skipped {
			skipped = append(skipped, r)
		}
	}
	if assert.Len(t, skipped, 1) {
		assert.Equal(t, core.KindTest, skipped[0].Kind)
		assert.Equal(t, "later", skipped[0].Test)
		assert.Equal(t, "Suite", skipped[0].Suite)
		assert.False(t, skipped[0].Success)
	}
}

func TestSubscriptions_Close(t *testing.T) {
	bus := event.NewBus(nil)
	s := TrackSteps(bus, nil)
	assert.Equal(t, 1, bus.ListenerCount(event.StepStarted))
	s.Close()
	assert.Equal(t, 0, bus.ListenerCount(event.StepStarted))
}
