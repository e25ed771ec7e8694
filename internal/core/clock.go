package core

import (
	"sync"
	"time"
)

// Clock is the time source of steps, result records and polling waits.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After fires once d has elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock only moves when told to. After advances it by the waited
// duration and fires at once, so polling loops run without real delays.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waited  time.Duration
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) Since(t time.Time) time.Duration { return f.Now().Sub(t) }

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.current = f.current.Add(d)
		f.waited += d
	}
	ch := make(chan time.Time, 1)
	ch <- f.current
	return ch
}

// Waited sums the durations passed to After.
func (f *FakeClock) Waited() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waited
}
