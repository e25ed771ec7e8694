// Package conductor is the public entry point of the Conductor engine.
//
// Scenarios are Go functions that receive their dependencies by type:
//
//	s := conductor.NewSuite("Checkout @smoke")
//	s.Scenario("pays by card", func(I *conductor.Actor) {
//		I.Do("amOnPage", "/cart")
//		I.Do("click", "Pay")
//		I.Do("see", "Thank you")
//	})
//
//	e, err := conductor.New(conductor.Options{Config: cfg})
//	if err != nil { ... }
//	defer e.Close()
//	res := e.Run(ctx, s)
//
// Every action is queued on the engine's recorder and executed in order; an
// action's result is available from the returned future.
package conductor

import (
	"context"
	"log/slog"

	"conductor/internal/actor"
	"conductor/internal/collector"
	"conductor/internal/config"
	"conductor/internal/core"
	"conductor/internal/effects"
	"conductor/internal/engine"
	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/recorder"
	"conductor/internal/scenario"
	"conductor/internal/step"
	"conductor/internal/suite"
	"conductor/internal/workers"
	"conductor/internal/yamlsuite"
)

type (
	Engine      = engine.Engine
	Options     = engine.Options
	Observer    = engine.Observer
	Config      = config.Config
	Actor       = actor.Actor
	CustomStep  = actor.CustomStep
	Effects     = effects.Effects
	Block       = effects.Block
	RetryBlock  = effects.RetryBlock
	Suite       = suite.Suite
	Test        = suite.Test
	Hook        = suite.Hook
	Throws      = suite.Throws
	Result      = scenario.Result
	Helper      = helper.Helper
	Method      = helper.Method
	Future      = recorder.Future
	RetryPolicy = recorder.RetryPolicy
	Step        = step.Step
	Secret      = step.Secret
	Bus         = event.Bus
	Event       = event.Event
	Record      = core.Record
	Reporter    = core.Reporter
)

// Hook slots.
const (
	BeforeSuite = suite.BeforeSuite
	AfterSuite  = suite.AfterSuite
	Before      = suite.Before
	After       = suite.After
)

// New builds an engine. See engine.Options for the knobs.
func New(opts Options) (*Engine, error) { return engine.New(opts) }

// NewSuite creates an empty suite. Tags are read from the title.
func NewSuite(title string) *Suite { return suite.New(title) }

// NewSecret wraps a value that is masked in step output.
func NewSecret(v string) Secret { return step.NewSecret(v) }

// LoadConfig reads conductor.yaml.
func LoadConfig(path string) (*Config, error) { return config.LoadConfig(path) }

// LoadSuites reads YAML scenario files into suites.
func LoadSuites(paths ...string) ([]*Suite, error) { return yamlsuite.Load(paths...) }

// RunParallel runs suites on up to n engines built from opts. Each engine
// gets its own worker number; records of all workers go to opts.Reporter
// and the returned collector. Helpers in opts.Helpers are shared by every
// worker; leave it nil to give each worker its own helpers from opts.Config.
func RunParallel(ctx context.Context, n int, opts Options, suites ...*Suite) (*Result, *collector.Collector, error) {
	coll := collector.NewCollector()
	reporters := core.MultiReporter{coll}
	if opts.Reporter != nil {
		reporters = append(reporters, opts.Reporter)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool := workers.NewPool(func(id int) (*engine.Engine, error) {
		o := opts
		o.Worker = id
		o.Reporter = reporters
		return engine.New(o)
	}, reporters, logger)
	res, err := pool.Run(ctx, n, suites)
	coll.Close()
	return res, coll, err
}
