package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	select {
	case fired := <-c.After(5 * time.Millisecond):
		assert.False(t, fired.Before(start))
	case <-time.After(time.Second):
		t.Fatal("After never fired")
	}
	assert.GreaterOrEqual(t, c.Since(start), 5*time.Millisecond)
}

func TestFakeClock_MovesOnlyWhenTold(t *testing.T) {
	c := NewFakeClock(epoch)
	assert.Equal(t, epoch, c.Now())
	assert.Zero(t, c.Since(epoch))

	c.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Since(epoch))

	later := epoch.Add(24 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestFakeClock_AfterAdvancesAndFires(t *testing.T) {
	c := NewFakeClock(epoch)

	tests := []struct {
		wait time.Duration
		want time.Time
	}{
		{100 * time.Millisecond, epoch.Add(100 * time.Millisecond)},
		{0, epoch.Add(100 * time.Millisecond)},
		{-time.Second, epoch.Add(100 * time.Millisecond)},
		{2 * time.Second, epoch.Add(2100 * time.Millisecond)},
	}
	for _, tt := range tests {
		select {
		case fired := <-c.After(tt.wait):
			assert.Equal(t, tt.want, fired, "After(%v)", tt.wait)
		default:
			t.Fatalf("After(%v) did not fire immediately", tt.wait)
		}
	}
	assert.Equal(t, 2100*time.Millisecond, c.Waited())
}

func TestFakeClock_ConcurrentUse(t *testing.T) {
	c := NewFakeClock(epoch)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.Advance(time.Millisecond)
				<-c.After(time.Millisecond)
				_ = c.Now()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1600*time.Millisecond, c.Since(epoch))
}
