// Package core defines the result records and small shared types used across
// the Conductor engine.
package core

import "time"

// Kind tells which lifecycle unit a Record measures.
type Kind string

const (
	KindStep  Kind = "step"
	KindTest  Kind = "test"
	KindHook  Kind = "hook"
	KindSuite Kind = "suite"
)

// Record is a single measurement produced while a run executes.
type Record struct {
	Kind      Kind
	Worker    int
	Timestamp time.Time
	Suite     string
	Test      string
	Name      string // step, hook or test title
	Action    string // helper method, steps only
	Duration  time.Duration
	Success   bool
	Skipped   bool
	Retries   int
	Error     string
}

// Reporter is the interface listeners use to send records to the Collector.
type Reporter interface {
	Report(Record)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Record)

func (f ReporterFunc) Report(r Record) { f(r) }

// MultiReporter fans a record out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(r Record) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(r)
		}
	}
}
