// Package helper defines the capability contract backends implement to expose
// actions to the actor, plus optional lifecycle hooks.
package helper

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Func is an action exposed by a helper.
type Func func(ctx context.Context, args ...any) (any, error)

// Method is one entry of a helper's static registration list.
type Method struct {
	Name string
	Fn   Func
	// NoRetry excludes the method from step retry policies.
	NoRetry bool
}

// Helper is a backend the actor delegates steps to.
type Helper interface {
	Name() string
	Methods() []Method
}

// Lifecycle hooks. Each is optional and invoked by the listener glue as a
// recorder task at the matching point of a run.
type (
	Initializer interface {
		Init(ctx context.Context) error
	}
	BeforeSuite interface {
		BeforeSuite(ctx context.Context, suite string) error
	}
	AfterSuite interface {
		AfterSuite(ctx context.Context, suite string) error
	}
	Before interface {
		Before(ctx context.Context, test string) error
	}
	Test interface {
		Test(ctx context.Context, test string) error
	}
	Passed interface {
		Passed(ctx context.Context, test string) error
	}
	Failed interface {
		Failed(ctx context.Context, test string, cause error) error
	}
	After interface {
		After(ctx context.Context, test string) error
	}
	BeforeStep interface {
		BeforeStep(ctx context.Context, step string) error
	}
	AfterStep interface {
		AfterStep(ctx context.Context, step string) error
	}
	FinishTest interface {
		FinishTest(ctx context.Context, test string) error
	}
)

// WithinAware helpers narrow their actions to a context element.
type WithinAware interface {
	WithinBegin(ctx context.Context, locator string) error
	WithinEnd(ctx context.Context) error
}

// SessionAware helpers keep several independent sessions, e.g. browsers.
type SessionAware interface {
	SessionStart(ctx context.Context, name string) error
	SessionEnd(ctx context.Context, name string) error
}

// Registry keeps helpers in registration order.
type Registry struct {
	mu      sync.RWMutex
	helpers []Helper
	byName  map[string]Helper
}

func NewRegistry(helpers ...Helper) (*Registry, error) {
	r := &Registry{byName: make(map[string]Helper)}
	for _, h := range helpers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends h. Names must be unique.
func (r *Registry) Register(h Helper) error {
	if h == nil {
		return fmt.Errorf("helper: nil helper")
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("helper: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("helper: %q already registered", name)
	}
	r.helpers = append(r.helpers, h)
	r.byName[name] = h
	return nil
}

// Get returns the helper registered as name.
func (r *Registry) Get(name string) (Helper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// All returns helpers in registration order.
func (r *Registry) All() []Helper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Helper, len(r.helpers))
	copy(out, r.helpers)
	return out
}

// Binding is a method resolved to the helper exposing it.
type Binding struct {
	Helper Helper
	Method Method
}

// Bindings resolves every public method. Methods starting with "_" are
// private; when helpers share a method name the first registered wins.
func (r *Registry) Bindings() map[string]Binding {
	out := make(map[string]Binding)
	for _, h := range r.All() {
		for _, m := range h.Methods() {
			if m.Name == "" || strings.HasPrefix(m.Name, "_") || m.Fn == nil {
				continue
			}
			if _, taken := out[m.Name]; taken {
				continue
			}
			out[m.Name] = Binding{Helper: h, Method: m}
		}
	}
	return out
}

// Each calls fn for every helper implementing hook type T.
func Each[T any](r *Registry, fn func(name string, hook T) error) error {
	for _, h := range r.All() {
		hook, ok := h.(T)
		if !ok {
			continue
		}
		if err := fn(h.Name(), hook); err != nil {
			return fmt.Errorf("helper %s: %w", h.Name(), err)
		}
	}
	return nil
}
