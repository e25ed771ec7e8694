package suite

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// OutcomeKind tags how a test ended.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomePassed
	OutcomeFailed
	OutcomeExpectedFailureMatched
	OutcomeExpectedFailureMismatched
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeExpectedFailureMatched:
		return "expected failure matched"
	case OutcomeExpectedFailureMismatched:
		return "expected failure mismatched"
	default:
		return "none"
	}
}

// Outcome is the tagged result of a test. Err is set for Failed and
// ExpectedFailureMismatched.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// OK reports whether the test counts as passed.
func (o Outcome) OK() bool {
	return o.Kind == OutcomePassed || o.Kind == OutcomeExpectedFailureMatched
}

// Throws declares the failure a test is expected to end with. Every field
// that is set must match.
type Throws struct {
	Message string         // substring of the error text
	Pattern *regexp.Regexp // matched against the error text
	Target  error          // matched with errors.Is
	Match   func(error) bool
}

func (th *Throws) Matches(err error) bool {
	if err == nil {
		return false
	}
	if th.Message != "" && !strings.Contains(err.Error(), th.Message) {
		return false
	}
	if th.Pattern != nil && !th.Pattern.MatchString(err.Error()) {
		return false
	}
	if th.Target != nil && !errors.Is(err, th.Target) {
		return false
	}
	if th.Match != nil && !th.Match(err) {
		return false
	}
	return true
}

func (th *Throws) String() string {
	var parts []string
	if th.Message != "" {
		parts = append(parts, fmt.Sprintf("message %q", th.Message))
	}
	if th.Pattern != nil {
		parts = append(parts, "pattern /"+th.Pattern.String()+"/")
	}
	if th.Target != nil {
		parts = append(parts, fmt.Sprintf("error %q", th.Target))
	}
	if th.Match != nil {
		parts = append(parts, "custom matcher")
	}
	if len(parts) == 0 {
		return "any error"
	}
	return strings.Join(parts, " and ")
}

// ExpectedFailureError reports a test whose failure did not match Throws.
type ExpectedFailureError struct {
	Expected string
	Actual   error
}

func (e *ExpectedFailureError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("expected error (%s) but the test passed", e.Expected)
	}
	return fmt.Sprintf("expected error (%s), got: %v", e.Expected, e.Actual)
}

func (e *ExpectedFailureError) Unwrap() error { return e.Actual }

// Resolve compares a test's error with its expectation.
func Resolve(th *Throws, err error) Outcome {
	if th == nil {
		if err == nil {
			return Outcome{Kind: OutcomePassed}
		}
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	if th.Matches(err) {
		return Outcome{Kind: OutcomeExpectedFailureMatched}
	}
	return Outcome{
		Kind: OutcomeExpectedFailureMismatched,
		Err:  &ExpectedFailureError{Expected: th.String(), Actual: err},
	}
}
