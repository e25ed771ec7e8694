package core

import (
	"context"
	"maps"
	"sync"
)

// Variables is the state scenarios share between steps, such as values saved
// from responses.
type Variables interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapVariables is a scope of variables. A child scope reads through to its
// parent and keeps its own writes; helpers may write from a timed-out step
// while the next one reads, so every scope is locked.
type MapVariables struct {
	parent *MapVariables

	mu   sync.RWMutex
	vars map[string]any
}

// NewVariables returns an empty root scope.
func NewVariables() *MapVariables {
	return &MapVariables{vars: map[string]any{}}
}

// Child returns a scope layered over v.
func (v *MapVariables) Child() *MapVariables {
	return &MapVariables{parent: v, vars: map[string]any{}}
}

func (v *MapVariables) Get(key string) (any, bool) {
	for s := v; s != nil; s = s.parent {
		s.mu.RLock()
		val, ok := s.vars[key]
		s.mu.RUnlock()
		if ok {
			return val, true
		}
	}
	return nil, false
}

func (v *MapVariables) Set(key string, value any) {
	v.mu.Lock()
	v.vars[key] = value
	v.mu.Unlock()
}

// Snapshot flattens the scope chain; inner values shadow outer ones.
func (v *MapVariables) Snapshot() map[string]any {
	out := map[string]any{}
	if v.parent != nil {
		out = v.parent.Snapshot()
	}
	v.mu.RLock()
	maps.Copy(out, v.vars)
	v.mu.RUnlock()
	return out
}

type workerKey struct{}

// ContextWithWorkerID tags ctx with the index of the worker running it.
func ContextWithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerIDFromContext returns the worker index, or 0 outside a pool.
func WorkerIDFromContext(ctx context.Context) int {
	id, _ := ctx.Value(workerKey{}).(int)
	return id
}
