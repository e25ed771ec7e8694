// Package container resolves support objects injected into test and hook
// functions.
package container

import (
	"fmt"
	"reflect"
	"sync"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type entry struct {
	name  string
	value any
}

// Container keeps named support objects in registration order.
type Container struct {
	mu      sync.RWMutex
	entries []entry
	byName  map[string]int
}

func New() *Container {
	return &Container{byName: map[string]int{}}
}

// Register stores v under name, replacing an earlier value with that name.
func (c *Container) Register(name string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.byName[name]; ok {
		c.entries[i].value = v
		return
	}
	c.byName[name] = len(c.entries)
	c.entries = append(c.entries, entry{name: name, value: v})
}

// Support returns the object registered as name.
func (c *Container) Support(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.entries[i].value, true
}

// Names lists registered names in registration order.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.name
	}
	return out
}

// Get returns the object registered as name if it has type T.
func Get[T any](c *Container, name string) (T, bool) {
	var zero T
	v, ok := c.Support(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Resolve finds a value for parameter type t: first among extra, then the
// registered objects. Exact type matches win over interface matches.
func (c *Container) Resolve(t reflect.Type, extra ...any) (reflect.Value, bool) {
	c.mu.RLock()
	candidates := make([]any, 0, len(extra)+len(c.entries))
	candidates = append(candidates, extra...)
	for _, e := range c.entries {
		candidates = append(candidates, e.value)
	}
	c.mu.RUnlock()

	for _, v := range candidates {
		if v != nil && reflect.TypeOf(v) == t {
			return reflect.ValueOf(v), true
		}
	}
	if t.Kind() == reflect.Interface {
		for _, v := range candidates {
			if v != nil && reflect.TypeOf(v).Implements(t) {
				return reflect.ValueOf(v), true
			}
		}
	}
	return reflect.Value{}, false
}

// Invoke calls fn with every parameter resolved. fn may return nothing or a
// single error.
func (c *Container) Invoke(fn any, extra ...any) error {
	if fn == nil {
		return nil
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("container: %T is not a function", fn)
	}
	if t.NumOut() > 1 || (t.NumOut() == 1 && t.Out(0) != errorType) {
		return fmt.Errorf("container: %s must return nothing or error", t)
	}
	if t.IsVariadic() {
		return fmt.Errorf("container: variadic %s cannot be injected", t)
	}

	args := make([]reflect.Value, t.NumIn())
	for i := range args {
		in := t.In(i)
		val, ok := c.Resolve(in, extra...)
		if !ok {
			return fmt.Errorf("container: no support object for parameter %d of type %s", i, in)
		}
		args[i] = val
	}
	out := v.Call(args)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
