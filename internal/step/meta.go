package step

import (
	"context"
	"strings"
	"sync"
	"time"

	"conductor/internal/event"
)

// MetaStep groups the steps scheduled by one logical action, such as a custom
// step or a within block, for nested reporting.
type MetaStep struct {
	Actor  string
	Name   string
	Args   []any
	Parent *MetaStep

	mu        sync.Mutex
	status    Status
	startTime time.Time
	endTime   time.Time
}

func NewMetaStep(actor, name string, args ...any) *MetaStep {
	return &MetaStep{Actor: actor, Name: name, Args: args, status: Pending}
}

type metaKey struct{}

// WithMeta returns a ctx carrying m as the active meta step.
func WithMeta(ctx context.Context, m *MetaStep) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// MetaFromContext returns the active meta step or nil.
func MetaFromContext(ctx context.Context) *MetaStep {
	m, _ := ctx.Value(metaKey{}).(*MetaStep)
	return m
}

// Run executes fn with m linked to every step scheduled meanwhile. The
// innermost meta step wins: its listener is prepended and links first.
func (m *MetaStep) Run(ctx context.Context, bus *event.Bus, fn func(ctx context.Context) error) error {
	if parent := MetaFromContext(ctx); parent != nil && parent != m && m.Parent == nil {
		m.Parent = parent
	}
	m.mu.Lock()
	m.startTime = time.Now()
	if m.status == Pending {
		m.status = Queued
	}
	m.mu.Unlock()

	sub := bus.Prepend(event.StepBefore, func(ev event.Event) {
		if st, ok := ev.Arg(0).(*Step); ok {
			st.LinkMeta(m)
		}
	})
	defer bus.RemoveListener(sub)

	err := fn(WithMeta(ctx, m))
	if err != nil {
		m.SetStatus(Failed)
	}
	return err
}

// SetStatus records a child outcome. Failed is sticky.
func (m *MetaStep) SetStatus(st Status) {
	m.mu.Lock()
	if m.status == Failed {
		m.mu.Unlock()
		return
	}
	m.status = st
	if st.Terminal() {
		m.endTime = time.Now()
	}
	parent := m.Parent
	m.mu.Unlock()
	if parent != nil {
		parent.SetStatus(st)
	}
}

func (m *MetaStep) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MetaStep) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endTime.IsZero() || m.startTime.IsZero() {
		return 0
	}
	return m.endTime.Sub(m.startTime)
}

// Path lists the meta steps from the outermost to m.
func (m *MetaStep) Path() []*MetaStep {
	var out []*MetaStep
	for cur := m; cur != nil; cur = cur.Parent {
		out = append([]*MetaStep{cur}, out...)
	}
	return out
}

func (m *MetaStep) String() string {
	parts := make([]string, 0, 3)
	if m.Actor != "" {
		parts = append(parts, m.Actor)
	}
	parts = append(parts, Humanize(m.Name))
	if args := HumanizeArgs(m.Args); args != "" {
		parts = append(parts, args)
	}
	return strings.Join(parts, " ")
}
