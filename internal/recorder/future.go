package recorder

import (
	"context"
	"sync"
)

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Future is the settled-later outcome of one queued entry.
// A nil Future stands for a task dropped by a stopped recorder; all of its
// methods behave as if it resolved with no value.
type Future struct {
	rec  *Recorder
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

func newFuture(r *Recorder) *Future {
	return &Future{rec: r, done: make(chan struct{})}
}

func (f *Future) settle(val any, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	if f == nil {
		return closedCh
	}
	return f.done
}

// Settled reports whether the outcome is known.
func (f *Future) Settled() bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}

// Dropped reports whether the task was never queued.
func (f *Future) Dropped() bool { return f == nil }

// Value returns the resolved value, or nil while pending.
func (f *Future) Value() any {
	if f == nil || !f.Settled() {
		return nil
	}
	return f.val
}

// Err returns the rejection error, or nil while pending.
func (f *Future) Err() error {
	if f == nil || !f.Settled() {
		return nil
	}
	return f.err
}

// Wait drives the recorder on the calling goroutine until the future settles.
// Called with the ctx handed to a running task, it drains nested work inline.
func (f *Future) Wait(ctx context.Context) (any, error) {
	if f == nil {
		return nil, nil
	}
	if f.Settled() {
		return f.val, f.err
	}
	r := f.rec
	if r.driving(ctx) {
		if err := r.drainUntil(ctx, f); err != nil {
			return nil, err
		}
		return f.val, f.err
	}

	select {
	case r.drive <- struct{}{}:
		defer func() { <-r.drive }()
		if err := r.drainUntil(withDriver(ctx, r), f); err != nil {
			return nil, err
		}
		return f.val, f.err
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type driverKey struct{ r *Recorder }

func withDriver(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, driverKey{r}, true)
}

func (r *Recorder) driving(ctx context.Context) bool {
	v, _ := ctx.Value(driverKey{r}).(bool)
	return v
}
