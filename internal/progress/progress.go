// Package progress keeps a live status line on a terminal while suites run.
// It receives the same records as the collector and prints failed tests as
// they finish.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"conductor/internal/core"
)

const clearLine = "\033[K"

// Options configure a Progress.
type Options struct {
	// Quiet suppresses all output.
	Quiet bool
	// Interval between redraws; one second when zero.
	Interval time.Duration
	// Total is the number of tests expected, shown as done/total.
	Total int
	Clock core.Clock
}

type counts struct {
	tests, failed, skipped int
	steps, failedSteps     int
	hooksFailed            int
}

// Progress is a core.Reporter that redraws one status line.
type Progress struct {
	out  io.Writer
	opts Options

	mu      sync.Mutex
	counts  counts
	started time.Time
	stop    chan struct{}
	done    chan struct{}
}

// New prints to out. Call Start to begin redrawing.
func New(out io.Writer, opts Options) *Progress {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	return &Progress{out: out, opts: opts, started: opts.Clock.Now()}
}

// Report counts rec and prints failed tests and hooks straight away.
func (p *Progress) Report(rec core.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &p.counts
	switch rec.Kind {
	case core.KindStep:
		c.steps++
		if !rec.Success {
			c.failedSteps++
		}
	case core.KindTest:
		c.tests++
		switch {
		case rec.Skipped:
			c.skipped++
		case !rec.Success:
			c.failed++
			p.failureLocked("✖", rec)
		}
	case core.KindHook:
		if !rec.Success {
			c.hooksFailed++
			p.failureLocked("✖ hook", rec)
		}
	}
}

func (p *Progress) failureLocked(mark string, rec core.Record) {
	if p.opts.Quiet {
		return
	}
	title := rec.Name
	if rec.Suite != "" {
		title = rec.Suite + ": " + title
	}
	fmt.Fprintf(p.out, "%s%s %s (worker %d)\n", clearLine, mark, title, rec.Worker)
	if msg := firstLine(rec.Error); msg != "" {
		fmt.Fprintf(p.out, "    %s\n", msg)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// Line renders the status line for the counts so far.
func (p *Progress) Line() string {
	p.mu.Lock()
	c, started := p.counts, p.started
	p.mu.Unlock()

	elapsed := p.opts.Clock.Since(started).Round(time.Second)
	var b strings.Builder
	fmt.Fprintf(&b, "[%02d:%02d] Tests: %d", int(elapsed.Minutes()), int(elapsed.Seconds())%60, c.tests)
	if p.opts.Total > 0 {
		fmt.Fprintf(&b, "/%d", p.opts.Total)
	}
	fmt.Fprintf(&b, " (%d failed, %d skipped) | Steps: %d", c.failed, c.skipped, c.steps)
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(&b, " | Steps/s: %.1f", float64(c.steps)/secs)
	}
	if c.failedSteps > 0 {
		fmt.Fprintf(&b, " | Failed steps: %d", c.failedSteps)
	}
	if c.hooksFailed > 0 {
		fmt.Fprintf(&b, " | Failed hooks: %d", c.hooksFailed)
	}
	return b.String()
}

// Start redraws the status line every interval until Stop.
func (p *Progress) Start() {
	if p.opts.Quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.started = p.opts.Clock.Now()
	p.stop, p.done = make(chan struct{}), make(chan struct{})
	go p.loop(p.stop, p.done)
}

func (p *Progress) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			line := p.Line()
			p.mu.Lock()
			fmt.Fprintf(p.out, "%s%s\r", clearLine, line)
			p.mu.Unlock()
		}
	}
}

// Stop ends redrawing and clears the status line. It is safe to call twice.
func (p *Progress) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	p.mu.Lock()
	fmt.Fprint(p.out, clearLine)
	p.mu.Unlock()
}

// Printf writes a message line above the status line.
func (p *Progress) Printf(format string, args ...any) {
	if p.opts.Quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, clearLine+format+"\n", args...)
}
