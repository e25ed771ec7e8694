// Package workers runs suites in parallel. Every worker owns an engine; suites
// are handed out one at a time from a shared queue and results are merged.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"conductor/internal/core"
	"conductor/internal/engine"
	"conductor/internal/scenario"
	"conductor/internal/suite"
)

// Factory builds the engine of worker id, starting at 1.
type Factory func(id int) (*engine.Engine, error)

type Pool struct {
	factory  Factory
	reporter core.Reporter
	logger   *slog.Logger

	nextID atomic.Int64
	active atomic.Int32
}

func NewPool(factory Factory, reporter core.Reporter, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		factory:  factory,
		reporter: reporter,
		logger:   logger.With(slog.String("component", "workers")),
	}
}

// ActiveWorkers returns the number of running workers.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// Run executes suites on up to n workers. It returns an error only when a
// worker could not be set up; test failures are part of the result.
func (p *Pool) Run(ctx context.Context, n int, suites []*suite.Suite) (*scenario.Result, error) {
	if n > len(suites) {
		n = len(suites)
	}
	if n < 1 {
		n = 1
	}

	var (
		qmu   sync.Mutex
		queue = suites
		next  = func() (*suite.Suite, bool) {
			qmu.Lock()
			defer qmu.Unlock()
			if len(queue) == 0 {
				return nil, false
			}
			s := queue[0]
			queue = queue[1:]
			return s, true
		}
	)

	start := time.Now()
	total := &scenario.Result{}
	var rmu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := int(p.nextID.Add(1))
		g.Go(func() error {
			res, err := p.work(gctx, id, next)
			if res != nil {
				rmu.Lock()
				total.Merge(res)
				rmu.Unlock()
			}
			return err
		})
	}
	err := g.Wait()
	total.Duration = time.Since(start)
	return total, err
}

func (p *Pool) work(ctx context.Context, id int, next func() (*suite.Suite, bool)) (res *scenario.Result, err error) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer p.recoverPanic(id, &res)

	e, err := p.factory(id)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	defer e.Close()
	if err := e.Init(ctx); err != nil {
		return nil, fmt.Errorf("worker %d: init: %w", id, err)
	}

	p.logger.Debug("worker started", slog.Int("worker", id))
	res = e.RunEach(ctx, next)
	p.logger.Debug("worker finished",
		slog.Int("worker", id),
		slog.Int("tests", res.Tests),
		slog.Int("failed", res.Failed))
	return res, nil
}

// recoverPanic reports a crashed worker as a failed test.
func (p *Pool) recoverPanic(id int, res **scenario.Result) {
	r := recover()
	if r == nil {
		return
	}
	msg := fmt.Sprintf("panic: %v", r)
	p.logger.Error("worker crashed", slog.Int("worker", id), slog.String("error", msg))
	if p.reporter != nil {
		p.reporter.Report(core.Record{
			Kind:      core.KindTest,
			Worker:    id,
			Timestamp: time.Now(),
			Name:      "panic",
			Error:     msg,
		})
	}
	if *res == nil {
		*res = &scenario.Result{}
	}
	(*res).Tests++
	(*res).Failed++
	(*res).Failures = append((*res).Failures, scenario.Failure{Test: "panic", Err: fmt.Errorf("worker %d: %s", id, msg)})
}
