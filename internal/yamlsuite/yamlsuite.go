// Package yamlsuite turns YAML feature files into suites whose tests drive the
// actor. Steps are scheduled one by one; a step with `save` is awaited so its
// result can be used by the steps after it as ${name}.
package yamlsuite

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"conductor/internal/actor"
	"conductor/internal/config"
	"conductor/internal/core"
	"conductor/internal/data"
	"conductor/internal/effects"
	"conductor/internal/recorder"
	"conductor/internal/step"
	"conductor/internal/suite"
	"conductor/internal/template"
)

// Load reads every file and builds one suite per file.
func Load(paths ...string) ([]*suite.Suite, error) {
	suites := make([]*suite.Suite, 0, len(paths))
	for _, path := range paths {
		f, err := config.LoadScenarioFile(path)
		if err != nil {
			return nil, err
		}
		s, err := Build(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// Build converts a parsed feature file. Tests and hooks resolve the actor and
// effects from the engine's container when they run.
func Build(f *config.ScenarioFile) (*suite.Suite, error) {
	s := suite.New(f.Feature)
	s.File = f.Path
	s.Tags = appendTags(s.Tags, f.Tags)
	s.Retries = f.Retries
	s.Timeout = f.Timeout
	s.Skip = f.Skip

	st := &state{file: f, suiteVars: core.NewVariables(), tests: map[attemptKey]*core.MapVariables{}}

	for kind, actions := range map[suite.HookKind][]config.Action{
		suite.BeforeSuite: f.BeforeSuite,
		suite.AfterSuite:  f.AfterSuite,
		suite.Before:      f.Before,
		suite.After:       f.After,
	} {
		if len(actions) > 0 {
			s.Hook(kind, st.hook(actions))
		}
	}
	sortHooks(s)

	for i := range f.Scenarios {
		sc := &f.Scenarios[i]
		fn := st.test(sc.Steps)

		var tests []*suite.Test
		if sc.Data != nil {
			rows, err := loadRows(f, sc.Data)
			if err != nil {
				return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
			}
			tests = data.Scenarios(s, sc.Name, rows, fn)
		} else {
			tests = []*suite.Test{s.Scenario(sc.Name, fn)}
		}

		var throws *suite.Throws
		if sc.Throws != nil {
			throws = &suite.Throws{Message: sc.Throws.Message}
			if sc.Throws.Pattern != "" {
				re, err := regexp.Compile(sc.Throws.Pattern)
				if err != nil {
					return nil, fmt.Errorf("scenario %q: throws.pattern: %w", sc.Name, err)
				}
				throws.Pattern = re
			}
		}
		for _, t := range tests {
			t.Tags = appendTags(t.Tags, sc.Tags)
			if sc.Retries != nil {
				t.Retries = *sc.Retries
			}
			t.Timeout = sc.Timeout
			t.Skip = sc.Skip
			t.Throws = throws
		}
	}
	return s, nil
}

// sortHooks keeps hook slots in a stable order.
func sortHooks(s *suite.Suite) {
	order := map[suite.HookKind]int{suite.BeforeSuite: 0, suite.Before: 1, suite.After: 2, suite.AfterSuite: 3}
	sort.SliceStable(s.Hooks, func(i, j int) bool {
		return order[s.Hooks[i].Kind] < order[s.Hooks[j].Kind]
	})
}

func appendTags(tags, extra []string) []string {
	for _, t := range extra {
		tag := "@" + strings.TrimPrefix(t, "@")
		dup := false
		for _, have := range tags {
			if have == tag {
				dup = true
				break
			}
		}
		if !dup {
			tags = append(tags, tag)
		}
	}
	return tags
}

func loadRows(f *config.ScenarioFile, dc *config.DataConfig) ([]data.Row, error) {
	if dc.File == "" {
		return dc.Rows, nil
	}
	rows, err := data.Load(dc.File, filepath.Dir(f.Path))
	if err != nil {
		return nil, err
	}
	return append(rows, dc.Rows...), nil
}

type attemptKey struct {
	test    *suite.Test
	attempt int
}

// state holds the variables of one feature file. Suite hooks write to the
// suite scope; each test attempt starts from a copy of it.
type state struct {
	file      *config.ScenarioFile
	suiteVars *core.MapVariables

	mu    sync.Mutex
	tests map[attemptKey]*core.MapVariables
}

func (st *state) varsFor(t *suite.Test) (*core.MapVariables, error) {
	if t == nil {
		return st.suiteVars, nil
	}
	key := attemptKey{t, t.Attempt()}
	st.mu.Lock()
	defer st.mu.Unlock()
	if v, ok := st.tests[key]; ok {
		return v, nil
	}
	v := st.suiteVars.Child()
	if err := seed(v, st.file.Vars); err != nil {
		return nil, err
	}
	if t.Data != nil {
		data.Inject(t.Data, v)
	}
	st.tests[key] = v
	return v, nil
}

// seed sets file variables in key order so later ones may refer to earlier.
func seed(vars *core.MapVariables, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, set := vars.Get(k); !set {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		val, err := template.Substitute(values[k], vars)
		if err != nil {
			return fmt.Errorf("vars.%s: %w", k, err)
		}
		vars.Set(k, val)
	}
	return nil
}

func (st *state) test(actions []config.Action) func(context.Context, *actor.Actor, *effects.Effects, *suite.Test) error {
	return func(ctx context.Context, I *actor.Actor, fx *effects.Effects, t *suite.Test) error {
		vars, err := st.varsFor(t)
		if err != nil {
			return err
		}
		return (&runner{I: I, fx: fx, vars: vars}).run(ctx, actions)
	}
}

func (st *state) hook(actions []config.Action) func(context.Context, *actor.Actor, *effects.Effects, *suite.Hook) error {
	return func(ctx context.Context, I *actor.Actor, fx *effects.Effects, h *suite.Hook) error {
		vars, err := st.varsFor(h.Test)
		if err != nil {
			return err
		}
		if h.Test == nil {
			if err := seed(vars, st.file.Vars); err != nil {
				return err
			}
		}
		return (&runner{I: I, fx: fx, vars: vars}).run(ctx, actions)
	}
}

// runner schedules actions for one test or hook.
type runner struct {
	I    *actor.Actor
	fx   *effects.Effects
	vars core.Variables
}

func (r *runner) run(ctx context.Context, actions []config.Action) error {
	for i := range actions {
		if err := r.action(ctx, &actions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) block(actions []config.Action) effects.Block {
	return func(ctx context.Context) error { return r.run(ctx, actions) }
}

func (r *runner) action(ctx context.Context, a *config.Action) error {
	switch a.Kind() {
	case "do":
		args, err := r.args(a)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Do, err)
		}
		if a.Retry > 0 {
			r.I.Retry(recorder.RetryPolicy{Retries: a.Retry})
		}
		if a.Timeout > 0 {
			r.I.LimitTime(a.Timeout)
		}
		return r.save(ctx, a.Save, r.I.DoContext(ctx, a.Do, args...))

	case "say":
		msg, err := template.Substitute(a.Say, r.vars)
		if err != nil {
			return fmt.Errorf("say: %w", err)
		}
		r.I.Say(msg)
		return nil

	case "tryTo":
		return r.save(ctx, a.Save, r.fx.TryTo(r.block(a.TryTo)))

	case "within":
		locator, err := template.Substitute(a.Within.Locator, r.vars)
		if err != nil {
			return fmt.Errorf("within: %w", err)
		}
		return r.save(ctx, a.Save, r.fx.Within(locator, r.block(a.Within.Steps)))

	case "retryTo":
		steps := a.RetryTo.Steps
		block := func(ctx context.Context, _ int) error { return r.run(ctx, steps) }
		return r.save(ctx, a.Save, r.fx.RetryTo(block, a.RetryTo.Tries, a.RetryTo.Poll))

	case "session":
		name, err := template.Substitute(a.Session.Name, r.vars)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		return r.save(ctx, a.Save, r.fx.Session(name, r.block(a.Session.Steps)))
	}
	return fmt.Errorf("invalid action: exactly one of do, say, tryTo, within, retryTo, session must be set")
}

func (r *runner) args(a *config.Action) ([]any, error) {
	args := make([]any, len(a.Args))
	for i, arg := range a.Args {
		v, err := template.SubstituteValue(arg, r.vars)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		if s, ok := v.(string); ok && a.Secret {
			v = step.NewSecret(s)
		}
		args[i] = v
	}
	return args, nil
}

// save waits for f and stores its value as name.
func (r *runner) save(ctx context.Context, name string, f *recorder.Future) error {
	if name == "" {
		return nil
	}
	val, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	r.vars.Set(name, val)
	return nil
}
