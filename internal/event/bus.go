// Package event provides the synchronous publish/subscribe bus that drives
// suite, test, step and hook lifecycle notifications.
package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Channel names one lifecycle notification.
type Channel string

const (
	AllBefore Channel = "all.before"
	AllAfter  Channel = "all.after"
	AllResult Channel = "all.result"

	SuiteBefore Channel = "suite.before"
	SuiteAfter  Channel = "suite.after"

	TestBefore   Channel = "test.before"
	TestStarted  Channel = "test.started"
	TestPassed   Channel = "test.passed"
	TestFailed   Channel = "test.failed"
	TestSkipped  Channel = "test.skipped"
	TestAfter    Channel = "test.after"
	TestFinished Channel = "test.finished"

	StepBefore   Channel = "step.before"
	StepStarted  Channel = "step.started"
	StepAfter    Channel = "step.after"
	StepPassed   Channel = "step.passed"
	StepFailed   Channel = "step.failed"
	StepFinished Channel = "step.finished"

	HookStarted Channel = "hook.started"
	HookPassed  Channel = "hook.passed"
	HookFailed  Channel = "hook.failed"
)

var channels = []Channel{
	AllBefore, AllAfter, AllResult,
	SuiteBefore, SuiteAfter,
	TestBefore, TestStarted, TestPassed, TestFailed, TestSkipped, TestAfter, TestFinished,
	StepBefore, StepStarted, StepAfter, StepPassed, StepFailed, StepFinished,
	HookStarted, HookPassed, HookFailed,
}

// Channels returns every known channel.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// Valid reports whether c belongs to the fixed channel taxonomy.
func (c Channel) Valid() bool {
	for _, known := range channels {
		if c == known {
			return true
		}
	}
	return false
}

// Event is one emission: a channel plus its payload.
type Event struct {
	Channel Channel
	Args    []any
}

// Arg returns the i-th payload argument or nil.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// Err returns the first error found in the payload.
func (e Event) Err() error {
	for _, a := range e.Args {
		if err, ok := a.(error); ok {
			return err
		}
	}
	return nil
}

// Listener receives events.
type Listener func(Event)

// Subscription identifies a registered listener.
type Subscription struct {
	id      uint64
	channel Channel
}

// Channel returns the channel the subscription listens on.
func (s Subscription) Channel() Channel { return s.channel }

type registration struct {
	id    uint64
	fn    Listener
	once  bool
	fired atomic.Bool
}

// Bus is a synchronous, re-entrant event dispatcher.
// Listeners run on the emitting goroutine in registration order.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Channel][]*registration
	nextID    atomic.Uint64
	logger    *slog.Logger
}

// NewBus creates an empty bus. A nil logger discards listener failures.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		listeners: make(map[Channel][]*registration),
		logger:    logger,
	}
}

// On appends a listener to ch.
func (b *Bus) On(ch Channel, fn Listener) Subscription {
	return b.add(ch, fn, false, false)
}

// Once appends a listener that is removed after its first call.
func (b *Bus) Once(ch Channel, fn Listener) Subscription {
	return b.add(ch, fn, true, false)
}

// Prepend registers a listener that runs before all current listeners of ch.
func (b *Bus) Prepend(ch Channel, fn Listener) Subscription {
	return b.add(ch, fn, false, true)
}

// PrependOnce is Prepend for a single call.
func (b *Bus) PrependOnce(ch Channel, fn Listener) Subscription {
	return b.add(ch, fn, true, true)
}

func (b *Bus) add(ch Channel, fn Listener, once, prepend bool) Subscription {
	if !ch.Valid() {
		b.logger.Warn("listener registered on unknown channel", slog.String("channel", string(ch)))
	}
	reg := &registration{id: b.nextID.Add(1), fn: fn, once: once}

	b.mu.Lock()
	defer b.mu.Unlock()
	if prepend {
		b.listeners[ch] = append([]*registration{reg}, b.listeners[ch]...)
	} else {
		b.listeners[ch] = append(b.listeners[ch], reg)
	}
	return Subscription{id: reg.id, channel: ch}
}

// RemoveListener unregisters sub. It reports whether the listener was found.
func (b *Bus) RemoveListener(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(sub.channel, sub.id)
}

func (b *Bus) removeLocked(ch Channel, id uint64) bool {
	regs := b.listeners[ch]
	for i, r := range regs {
		if r.id == id {
			b.listeners[ch] = append(regs[:i:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners registered on ch.
func (b *Bus) ListenerCount(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[ch])
}

// Clear removes every listener.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Channel][]*registration)
}

// Emit delivers args to every listener of ch. Listener panics are logged
// and never reach the caller.
func (b *Bus) Emit(ch Channel, args ...any) {
	b.mu.RLock()
	regs := make([]*registration, len(b.listeners[ch]))
	copy(regs, b.listeners[ch])
	b.mu.RUnlock()

	ev := Event{Channel: ch, Args: args}
	for _, r := range regs {
		if r.once {
			if r.fired.Swap(true) {
				continue
			}
			b.mu.Lock()
			b.removeLocked(ch, r.id)
			b.mu.Unlock()
		}
		b.dispatch(r, ev)
	}
}

func (b *Bus) dispatch(r *registration, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event listener failed",
				slog.String("channel", string(ev.Channel)),
				slog.String("error", fmt.Sprint(rec)))
		}
	}()
	r.fn(ev)
}
