package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/actor"
	"conductor/internal/config"
	"conductor/internal/core"
	"conductor/internal/event"
	"conductor/internal/helper"
	"conductor/internal/plugin"
	"conductor/internal/suite"
)

type stub map[string]helper.Func

func (s stub) Name() string { return "stub" }

func (s stub) Methods() []helper.Method {
	var out []helper.Method
	for name, fn := range s {
		out = append(out, helper.Method{Name: name, Fn: fn})
	}
	return out
}

var errNotFound = errors.New("not found")

func see(_ context.Context, args ...any) (any, error) {
	if args[0] == "missing" {
		return nil, errNotFound
	}
	return nil, nil
}

type records struct {
	mu   sync.Mutex
	list []core.Record
}

func (r *records) Report(rec core.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, rec)
}

func (r *records) kind(k core.Kind) []core.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Record
	for _, rec := range r.list {
		if rec.Kind == k {
			out = append(out, rec)
		}
	}
	return out
}

func TestEngine_RunsSuites(t *testing.T) {
	rep := &records{}
	var workerSeen atomic.Int64
	e, err := New(Options{
		Worker: 2,
		Helpers: []helper.Helper{stub{
			"see": see,
			"whoami": func(ctx context.Context, _ ...any) (any, error) {
				workerSeen.Store(int64(core.WorkerIDFromContext(ctx)))
				return nil, nil
			},
		}},
		Reporter: rep,
	})
	require.NoError(t, err)
	defer e.Close()

	s := suite.New("checkout")
	s.Scenario("passes", func(I *actor.Actor) {
		I.Do("see", "Total")
		I.Do("whoami")
	})
	s.Scenario("fails", func(I *actor.Actor) {
		I.Do("see", "missing")
	})

	res := e.Run(context.Background(), s)
	assert.Equal(t, 2, res.Tests)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, errNotFound)
	assert.Equal(t, int64(2), workerSeen.Load())

	steps := rep.kind(core.KindStep)
	require.Len(t, steps, 3)
	for _, st := range steps {
		assert.Equal(t, 2, st.Worker)
	}
	assert.Equal(t, "see", steps[0].Action)
	assert.False(t, steps[2].Success)
	assert.Len(t, rep.kind(core.KindTest), 2)
}

type cart struct{ items int }

func TestEngine_InjectsSupportObjects(t *testing.T) {
	c := &cart{}
	e, err := New(Options{
		Helpers: []helper.Helper{stub{"see": see}},
		Support: map[string]any{"cart": c},
	})
	require.NoError(t, err)
	defer e.Close()

	s := suite.New("support")
	s.Scenario("adds", func(ctx context.Context, c *cart, I *actor.Actor) {
		c.items++
		I.Do("see", "cart")
	})
	res := e.Run(context.Background(), s)
	assert.True(t, res.OK())
	assert.Equal(t, 1, c.items)

	got, ok := e.Container().Support("stub")
	assert.True(t, ok)
	assert.NotNil(t, got)
}

func TestEngine_LoadsPlugins(t *testing.T) {
	var calls atomic.Int32
	cfg := config.Default()
	cfg.Plugins = map[string]config.PluginArgs{
		"retryFailedStep": {"retries": 2, "minTimeout": "5ms"},
	}
	e, err := New(Options{
		Config: cfg,
		Helpers: []helper.Helper{stub{"seeFlaky": func(context.Context, ...any) (any, error) {
			if calls.Add(1) < 3 {
				return nil, errNotFound
			}
			return nil, nil
		}}},
	})
	require.NoError(t, err)
	defer e.Close()

	s := suite.New("flaky")
	s.Scenario("eventually passes", func(I *actor.Actor) { I.Do("seeFlaky") })
	res := e.Run(context.Background(), s)
	assert.True(t, res.OK(), "failures: %v", res.Failures)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEngine_CustomPluginRegistry(t *testing.T) {
	plugins := plugin.NewRegistry()
	var started atomic.Int32
	plugins.Register("counter", func(host plugin.Host, _ map[string]any) error {
		host.Bus().On(event.TestStarted, func(event.Event) { started.Add(1) })
		return nil
	})
	cfg := config.Default()
	cfg.Plugins = map[string]config.PluginArgs{"counter": {}}

	e, err := New(Options{Config: cfg, Plugins: plugins, Helpers: []helper.Helper{}})
	require.NoError(t, err)
	defer e.Close()

	s := suite.New("plugins")
	s.Scenario("one", func() {})
	s.Scenario("two", func() {})
	e.Run(context.Background(), s)
	assert.Equal(t, int32(2), started.Load())
}

func TestEngine_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.Plugins = map[string]config.PluginArgs{"nope": {}}
	_, err := New(Options{Config: cfg})
	assert.ErrorContains(t, err, `unknown plugin "nope"`)

	cfg = config.Default()
	cfg.Grep = "("
	_, err = New(Options{Config: cfg})
	assert.ErrorContains(t, err, "grep")

	_, err = New(Options{Helpers: []helper.Helper{stub{}, stub{}}})
	assert.ErrorContains(t, err, "already registered")
}

func TestEngine_GrepAndVocabulary(t *testing.T) {
	cfg := config.Default()
	cfg.Grep = "@smoke"
	cfg.Vocabulary = map[string]string{"vedo": "see"}
	var ran []string
	e, err := New(Options{Config: cfg, Helpers: []helper.Helper{stub{"see": func(_ context.Context, args ...any) (any, error) {
		ran = append(ran, args[0].(string))
		return nil, nil
	}}}})
	require.NoError(t, err)
	defer e.Close()

	s := suite.New("grep")
	s.Scenario("login @smoke", func(I *actor.Actor) { I.Do("vedo", "login") })
	s.Scenario("profile", func(I *actor.Actor) { I.Do("see", "profile") })
	res := e.Run(context.Background(), s)
	assert.Equal(t, 1, res.Tests)
	assert.Equal(t, []string{"login"}, ran)
}

func TestFromConfig(t *testing.T) {
	assert.Empty(t, FromConfig(config.HelpersConfig{}, nil))

	helpers := FromConfig(config.HelpersConfig{
		REST: &config.RESTConfig{Endpoint: "http://localhost"},
		Web:  &config.WebConfig{URL: "http://localhost"},
	}, nil)
	require.Len(t, helpers, 2)
	assert.Equal(t, "REST", helpers[0].Name())
	assert.Equal(t, "Web", helpers[1].Name())
}
