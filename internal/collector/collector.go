// Package collector aggregates run records and computes metrics.
package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"conductor/internal/core"
)

// Collector aggregates records from every worker and produces a summary.
type Collector struct {
	records   []core.Record
	ch        chan core.Record
	done      chan struct{}
	mu        sync.Mutex
	closeMu   sync.RWMutex
	closed    bool
	dropped   atomic.Int64
	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a new Collector and starts its collection goroutine.
func NewCollector() *Collector {
	c := &Collector{
		records:   make([]core.Record, 0),
		ch:        make(chan core.Record, 1000),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for rec := range c.ch {
		c.mu.Lock()
		c.records = append(c.records, rec)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report queues a record. Thread-safe; records sent after Close are dropped.
func (c *Collector) Report(rec core.Record) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	c.ch <- rec
}

// Close stops accepting records and waits until queued ones are stored.
func (c *Collector) Close() {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		c.endTime = time.Now()
		close(c.ch)
	}
	c.closeMu.Unlock()
	<-c.done
}

// Dropped counts records reported after Close.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Records returns a copy of collected records.
func (c *Collector) Records() []core.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]core.Record, len(c.records))
	copy(result, c.records)
	return result
}

// Duration returns the run duration.
// If the collector is closed, returns the duration from start to end.
// If still running, returns the duration from start to now.
func (c *Collector) Duration() time.Duration {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Compute derives metrics from the records collected so far.
func (c *Collector) Compute() *Metrics {
	return ComputeMetrics(c.Records(), c.Duration())
}
