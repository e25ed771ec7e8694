// Package recorder serializes every asynchronous test action into one ordered
// chain of tasks. Tasks are appended to explicit queues and executed one at a
// time by whichever goroutine waits on a Future; nested sessions push a fresh
// queue that is drained before the queue below it continues.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Func is the body of a task. ctx carries the recorder's driver marker, so
// futures awaited with it are drained inline.
type Func func(ctx context.Context) (any, error)

// CatchFunc handles a chain rejection. Returning an error keeps the chain
// rejected with that error.
type CatchFunc func(err error) error

type entryKind int

const (
	kindTask entryKind = iota
	kindCatch
	kindTail
)

type entry struct {
	kind      entryKind
	name      string
	fn        Func
	handler   CatchFunc
	stop      bool
	retryable bool
	timeout   time.Duration
	future    *Future
	seq       int
}

// A session chain waits for entries queued before it started on the chains
// from floor up to its own. Chains below floor were executing the task that
// started the session and resume after it.
type chain struct {
	name    string
	entries []*entry
	cursor  int
	err     error
	last    any
	busy    bool
	closed  bool
	after   int
	floor   int
}

func (c *chain) pending() bool { return c.cursor < len(c.entries) }

type options struct {
	force   bool
	noRetry bool
	timeout time.Duration
}

// Option tunes a single Add call.
type Option func(*options)

// Force queues the task even when the recorder is stopped.
func Force() Option { return func(o *options) { o.force = true } }

// NoRetry excludes the task from retry policies.
func NoRetry() Option { return func(o *options) { o.noRetry = true } }

// Timeout rejects the task with a TimeoutError once d elapses.
func Timeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// Recorder is the sequential task queue behind a test run.
// It is safe for concurrent use; execution is serialized regardless.
type Recorder struct {
	mu      sync.Mutex
	running bool
	queueID int
	seq     int
	stack   []*chain
	tasks   []string
	retries []RetryPolicy

	drive  chan struct{}
	logger *slog.Logger

	Session *Session
}

// New creates a stopped recorder.
func New(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Recorder{
		stack:  []*chain{{name: "root"}},
		drive:  make(chan struct{}, 1),
		logger: logger,
	}
	r.Session = &Session{r: r}
	return r
}

// Start begins accepting tasks on a fresh queue.
func (r *Recorder) Start() {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	r.Reset()
}

// StartUnlessRunning starts the recorder only when it is stopped.
func (r *Recorder) StartUnlessRunning() {
	if r.Running() {
		return
	}
	r.Start()
}

// Stop makes subsequent non-forced Add calls no-ops.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// Running reports whether tasks are accepted.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// QueueID identifies the current queue; it grows on every Reset.
func (r *Recorder) QueueID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueID
}

// Reset discards pending work, sessions and retry policies.
func (r *Recorder) Reset() {
	r.mu.Lock()
	var dropped []*entry
	for _, c := range r.stack {
		dropped = append(dropped, c.entries[c.cursor:]...)
		c.cursor = len(c.entries)
	}
	r.stack = []*chain{{name: "root"}}
	r.tasks = nil
	r.retries = nil
	r.queueID++
	queue := r.queueID
	r.mu.Unlock()

	for _, e := range dropped {
		e.future.settle(nil, ErrReset)
	}
	if len(dropped) > 0 {
		r.logger.Debug("pending tasks discarded", slog.Int("queue", queue), slog.Int("count", len(dropped)))
	}
}

// Add appends fn to the current chain. On a stopped recorder without Force it
// returns nil and fn never runs.
func (r *Recorder) Add(name string, fn Func, opts ...Option) *Future {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running && !o.force {
		r.logger.Debug("recorder stopped, task dropped", slog.Int("queue", r.queueID), slog.String("task", name))
		return nil
	}
	return r.appendLocked(&entry{
		kind:      kindTask,
		name:      name,
		fn:        fn,
		retryable: !o.noRetry,
		timeout:   o.timeout,
	})
}

// Retry pushes p once every task queued so far has run.
func (r *Recorder) Retry(p RetryPolicy) *Future {
	return r.Add("", func(context.Context) (any, error) {
		r.mu.Lock()
		r.retries = append(r.retries, p)
		r.mu.Unlock()
		return nil, nil
	})
}

// PopRetry removes the most recent retry policy.
func (r *Recorder) PopRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.retries); n > 0 {
		r.retries = r.retries[:n-1]
	}
}

// RetryPolicies returns the active policies, oldest first.
func (r *Recorder) RetryPolicies() []RetryPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RetryPolicy, len(r.retries))
	copy(out, r.retries)
	return out
}

// Catch handles a rejection of the current chain and stops the recorder.
func (r *Recorder) Catch(fn CatchFunc) *Future {
	return r.addCatch(fn, true)
}

// CatchWithoutStop handles a rejection and keeps recording.
func (r *Recorder) CatchWithoutStop(fn CatchFunc) *Future {
	return r.addCatch(fn, false)
}

func (r *Recorder) addCatch(fn CatchFunc, stop bool) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(&entry{kind: kindCatch, handler: fn, stop: stop})
}

// Throw injects err into the chain at the current position.
func (r *Recorder) Throw(err error) *Future {
	return r.Add("throw error: "+err.Error(), func(context.Context) (any, error) {
		return nil, err
	}, NoRetry())
}

// Promise returns a future for everything queued on the current chain so far.
func (r *Recorder) Promise() *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(&entry{kind: kindTail})
}

// Wait blocks until the current chain settles and returns its error.
func (r *Recorder) Wait(ctx context.Context) error {
	_, err := r.Promise().Wait(ctx)
	return err
}

// Scheduled returns the names of queued tasks, with session markers.
func (r *Recorder) Scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tasks))
	copy(out, r.tasks)
	return out
}

func (r *Recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("[%d] Queue: %s", r.queueID, strings.Join(r.tasks, " -> "))
}

func (r *Recorder) currentLocked() *chain {
	for i := len(r.stack) - 1; i > 0; i-- {
		if !r.stack[i].closed {
			return r.stack[i]
		}
	}
	return r.stack[0]
}

func (r *Recorder) appendLocked(e *entry) *Future {
	c := r.currentLocked()
	r.pushLocked(c, e)
	if e.name != "" {
		r.tasks = append(r.tasks, e.name)
		r.logger.Debug("task queued",
			slog.Int("queue", r.queueID),
			slog.String("session", c.name),
			slog.String("task", e.name))
	}
	return e.future
}

func (r *Recorder) pushLocked(c *chain, e *entry) {
	e.future = newFuture(r)
	e.seq = r.seq
	r.seq++
	c.entries = append(c.entries, e)
}

// next picks the entry to run: the topmost chain with pending work it may
// start, never passing below a chain whose entry is still executing.
func (r *Recorder) next() (*chain, *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.stack) - 1; i >= 0; i-- {
		c := r.stack[i]
		if c.busy {
			return nil, nil
		}
		if c.pending() && !r.blockedLocked(i) {
			e := c.entries[c.cursor]
			c.cursor++
			c.busy = true
			return c, e
		}
		if c.closed && i == len(r.stack)-1 {
			r.stack = r.stack[:i]
		}
	}
	return nil, nil
}

// blockedLocked reports whether a chain below stack[i] still holds entries
// queued before stack[i] was started.
func (r *Recorder) blockedLocked(i int) bool {
	c := r.stack[i]
	for j := c.floor; j < i; j++ {
		below := r.stack[j]
		if below.pending() && below.entries[below.cursor].seq < c.after {
			return true
		}
	}
	return false
}

func (r *Recorder) drainUntil(ctx context.Context, f *Future) error {
	for !f.Settled() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, e := r.next()
		if e == nil {
			if f.Settled() {
				return nil
			}
			return ErrStalled
		}
		r.execute(ctx, c, e)
	}
	return nil
}

func (r *Recorder) execute(ctx context.Context, c *chain, e *entry) {
	r.mu.Lock()
	chainErr, last := c.err, c.last
	r.mu.Unlock()

	switch e.kind {
	case kindTask:
		if chainErr != nil {
			r.release(c)
			e.future.settle(nil, chainErr)
			return
		}
		val, err := r.runWithRetryPolicy(ctx, e)
		r.mu.Lock()
		c.busy = false
		if err != nil {
			c.err = err
		} else {
			c.last = val
		}
		r.mu.Unlock()
		if err != nil {
			r.logger.Debug("task failed", slog.String("task", e.name), slog.String("error", err.Error()))
		}
		e.future.settle(val, err)

	case kindCatch:
		if chainErr == nil {
			r.release(c)
			e.future.settle(last, nil)
			return
		}
		handled := r.handle(e.handler, chainErr)
		r.mu.Lock()
		c.busy = false
		c.err = handled
		if e.stop {
			r.running = false
		}
		r.mu.Unlock()
		e.future.settle(nil, handled)

	case kindTail:
		r.release(c)
		e.future.settle(last, chainErr)
	}
}

func (r *Recorder) release(c *chain) {
	r.mu.Lock()
	c.busy = false
	r.mu.Unlock()
}

func (r *Recorder) handle(fn CatchFunc, err error) (out error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = AsError("catch handler", rec)
		}
	}()
	return fn(err)
}

func (r *Recorder) call(ctx context.Context, e *entry) (any, error) {
	if e.timeout <= 0 {
		return invoke(ctx, e)
	}
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := invoke(tctx, e)
		done <- result{v, err}
	}()
	select {
	case res := <-done:
		if res.err != nil && tctx.Err() != nil && ctx.Err() == nil {
			return nil, &TimeoutError{Task: e.name, After: e.timeout}
		}
		return res.val, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{Task: e.name, After: e.timeout}
	}
}

func invoke(ctx context.Context, e *entry) (val any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			val, err = nil, AsError(e.name, rec)
		}
	}()
	return e.fn(ctx)
}
