package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"conductor/internal/core"
)

var runStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestLine_Counts(t *testing.T) {
	clock := core.NewFakeClock(runStart)
	p := New(&bytes.Buffer{}, Options{Clock: clock, Total: 10})

	for _, rec := range []core.Record{
		{Kind: core.KindStep, Success: true},
		{Kind: core.KindStep, Success: true},
		{Kind: core.KindStep},
		{Kind: core.KindTest, Success: true},
		{Kind: core.KindTest},
		{Kind: core.KindTest, Skipped: true},
		{Kind: core.KindHook},
		{Kind: core.KindSuite, Success: true},
	} {
		p.Report(rec)
	}
	clock.Advance(75 * time.Second)

	assert.Equal(t,
		"[01:15] Tests: 3/10 (1 failed, 1 skipped) | Steps: 3 | Steps/s: 0.0 | Failed steps: 1 | Failed hooks: 1",
		p.Line())
}

func TestLine_Start(t *testing.T) {
	p := New(&bytes.Buffer{}, Options{Clock: core.NewFakeClock(runStart)})
	assert.Equal(t, "[00:00] Tests: 0 (0 failed, 0 skipped) | Steps: 0", p.Line())
}

func TestReport_PrintsFailures(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Options{})

	p.Report(core.Record{Kind: core.KindTest, Worker: 2, Suite: "Checkout", Name: "pays", Success: true})
	p.Report(core.Record{Kind: core.KindTest, Worker: 2, Suite: "Checkout", Name: "refunds",
		Error: "expected response code to be 2xx\n    at refunds"})
	p.Report(core.Record{Kind: core.KindHook, Worker: 1, Suite: "Checkout", Name: `"before all" hook`, Error: "login failed"})

	out := buf.String()
	assert.NotContains(t, out, "pays")
	assert.Contains(t, out, clearLine+"✖ Checkout: refunds (worker 2)\n    expected response code to be 2xx\n")
	assert.NotContains(t, out, "at refunds")
	assert.Contains(t, out, `✖ hook Checkout: "before all" hook (worker 1)`)
}

func TestQuiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Options{Quiet: true, Interval: time.Millisecond})

	p.Start()
	p.Printf("Run %s saved", "01J")
	p.Report(core.Record{Kind: core.KindTest, Name: "fails"})
	time.Sleep(5 * time.Millisecond)
	p.Stop()

	assert.Empty(t, buf.String())
	assert.Contains(t, p.Line(), "Tests: 1 (1 failed")
}

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{}).Printf("Conductor %q: %d suites", "shop", 2)
	assert.Equal(t, clearLine+"Conductor \"shop\": 2 suites\n", buf.String())
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(&bytes.Buffer{}, Options{})
	p.Stop()
	p.Start()
	p.Stop()
	p.Stop()
}

func TestRedraws(t *testing.T) {
	var buf syncBuffer
	p := New(&buf, Options{Interval: 5 * time.Millisecond})
	p.Report(core.Record{Kind: core.KindTest, Success: true})
	p.Start()

	assert.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "Tests: 1 (0 failed")
	}, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.True(t, strings.HasSuffix(buf.String(), clearLine))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
