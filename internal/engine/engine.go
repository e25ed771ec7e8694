// Package engine wires one independent runner: a recorder, an event bus,
// helpers, the actor, listeners and plugins. Parallel workers each own one.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"conductor/internal/actor"
	"conductor/internal/config"
	"conductor/internal/container"
	"conductor/internal/core"
	"conductor/internal/effects"
	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/helper/rest"
	"conductor/internal/helper/web"
	"conductor/internal/listener"
	"conductor/internal/plugin"
	"conductor/internal/recorder"
	"conductor/internal/scenario"
	"conductor/internal/suite"
)

// Observer subscribes to an engine's bus, e.g. metrics or tracing.
type Observer interface {
	Attach(bus *event.Bus, worker int)
}

type Options struct {
	Config *config.Config
	// Worker numbers the engine, starting at 1.
	Worker int
	// Helpers replaces the helpers built from Config.Helpers when set.
	Helpers     []helper.Helper
	CustomSteps map[string]actor.CustomStep
	// Support objects are injected into tests and hooks by type.
	Support   map[string]any
	Reporter  core.Reporter
	Observers []Observer
	Plugins   *plugin.Registry
	Clock     core.Clock
	// Debug receives request dumps of the REST helper.
	Debug  io.Writer
	Logger *slog.Logger
}

// Engine is a plugin.Host.
type Engine struct {
	cfg    *config.Config
	worker int
	logger *slog.Logger

	rec       *recorder.Recorder
	bus       *event.Bus
	helpers   *helper.Registry
	actor     *actor.Actor
	effects   *effects.Effects
	container *container.Container
	runner    *scenario.Runner
	steps     *listener.Steps

	subs []interface{ Close() }
}

func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Worker > 0 {
		logger = logger.With(slog.Int("worker", opts.Worker))
	}

	helpers := opts.Helpers
	if helpers == nil {
		helpers = FromConfig(cfg.Helpers, opts.Debug)
	}
	reg, err := helper.NewRegistry(helpers...)
	if err != nil {
		return nil, err
	}

	var grep *regexp.Regexp
	if cfg.Grep != "" {
		grep, err = regexp.Compile(cfg.Grep)
		if err != nil {
			return nil, fmt.Errorf("grep: %w", err)
		}
	}

	e := &Engine{
		cfg:       cfg,
		worker:    opts.Worker,
		logger:    logger,
		rec:       recorder.New(logger.With(slog.String("component", "recorder"))),
		bus:       event.NewBus(logger),
		helpers:   reg,
		container: container.New(),
	}
	e.actor = actor.New(reg, e.rec, e.bus, actor.Options{
		Vocabulary:  cfg.Vocabulary,
		CustomSteps: opts.CustomSteps,
		StepTimeout: cfg.StepTimeout,
		DryRun:      cfg.DryRun,
		Clock:       opts.Clock,
		Logger:      logger,
	})
	e.effects = effects.New(e.rec, e.bus, reg, logger)
	e.effects.Clock = opts.Clock

	e.container.Register("I", e.actor)
	e.container.Register("effects", e.effects)
	e.container.Register("recorder", e.rec)
	e.container.Register("bus", e.bus)
	for _, h := range reg.All() {
		e.container.Register(h.Name(), h)
	}
	for name, v := range opts.Support {
		e.container.Register(name, v)
	}

	e.runner = scenario.New(e.rec, e.bus, e.container, scenario.Config{
		HookRetries: map[suite.HookKind]int{
			suite.Before:      cfg.Retry.Before,
			suite.After:       cfg.Retry.After,
			suite.BeforeSuite: cfg.Retry.BeforeSuite,
			suite.AfterSuite:  cfg.Retry.AfterSuite,
		},
		TestRetries: cfg.Retry.Scenario,
		Timeout:     cfg.Timeout,
		Grep:        grep,
		Invert:      cfg.Invert,
		Logger:      logger,
	})

	e.steps = listener.TrackSteps(e.bus, logger)
	e.subs = append(e.subs, e.steps, listener.Helpers(reg, e.rec, e.bus, logger))
	if opts.Reporter != nil {
		e.subs = append(e.subs, listener.ReportResults(e.bus, opts.Reporter, opts.Worker, opts.Clock))
	}
	for _, o := range opts.Observers {
		o.Attach(e.bus, opts.Worker)
	}

	plugins := opts.Plugins
	if plugins == nil {
		plugins = plugin.NewRegistry()
	}
	if err := plugins.Load(e, cfg.Plugins); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// FromConfig builds the helpers enabled in cfg.
func FromConfig(cfg config.HelpersConfig, debug io.Writer) []helper.Helper {
	var out []helper.Helper
	if cfg.REST != nil {
		var dump io.Writer
		if cfg.REST.Debug {
			dump = debug
		}
		out = append(out, rest.New(*cfg.REST, nil, dump))
	}
	if cfg.Web != nil {
		out = append(out, web.New(*cfg.Web, nil))
	}
	return out
}

func (e *Engine) Recorder() *recorder.Recorder    { return e.rec }
func (e *Engine) Bus() *event.Bus                 { return e.bus }
func (e *Engine) Logger() *slog.Logger            { return e.logger }
func (e *Engine) Actor() *actor.Actor             { return e.actor }
func (e *Engine) Effects() *effects.Effects       { return e.effects }
func (e *Engine) Helpers() *helper.Registry       { return e.helpers }
func (e *Engine) Container() *container.Container { return e.container }
func (e *Engine) Runner() *scenario.Runner        { return e.runner }
func (e *Engine) Worker() int                     { return e.worker }

// Init calls the helpers' Init hooks.
func (e *Engine) Init(ctx context.Context) error {
	return listener.InitHelpers(e.context(ctx), e.helpers)
}

// Run executes suites in order and returns the combined result.
func (e *Engine) Run(ctx context.Context, suites ...*suite.Suite) *scenario.Result {
	return e.runner.Run(e.context(ctx), suites...)
}

// RunEach executes suites pulled from next.
func (e *Engine) RunEach(ctx context.Context, next func() (*suite.Suite, bool)) *scenario.Result {
	return e.runner.RunEach(e.context(ctx), next)
}

// RunSuite executes one suite without the all.* events.
func (e *Engine) RunSuite(ctx context.Context, s *suite.Suite) *scenario.Result {
	return e.runner.RunSuite(e.context(ctx), s)
}

func (e *Engine) context(ctx context.Context) context.Context {
	if e.worker > 0 {
		return core.ContextWithWorkerID(ctx, e.worker)
	}
	return ctx
}

// Close removes the engine's listeners and stops the recorder.
func (e *Engine) Close() {
	for _, s := range e.subs {
		s.Close()
	}
	e.subs = nil
	e.rec.Stop()
}
