package billing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTimer(rate float64) (*Timer, *fakeClock) {
	clk := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewTimer(rate, WithClock(clk.Now), WithInterval(0)), clk
}

func TestTimer_StartIsIdempotent(t *testing.T) {
	tm, clk := newTestTimer(10)
	tm.Start()
	clk.Advance(30 * time.Second)
	tm.Start()
	clk.Advance(30 * time.Second)

	assert.Equal(t, int64(60), tm.ElapsedSeconds())
	assert.InDelta(t, 10.0, tm.Amount(), 1e-9)
}

func TestTimer_StopFreezes(t *testing.T) {
	tm, clk := newTestTimer(6)
	tm.Start()
	clk.Advance(90 * time.Second)
	tm.Stop()
	clk.Advance(time.Hour)

	assert.False(t, tm.Running())
	assert.Equal(t, int64(90), tm.ElapsedSeconds())
	assert.InDelta(t, 9.0, tm.Amount(), 1e-9)

	tm.Stop()
	assert.Equal(t, int64(90), tm.ElapsedSeconds())
}

func TestTimer_FreezeAtAuthoritativeTotal(t *testing.T) {
	tm, clk := newTestTimer(10)
	tm.Start()
	clk.Advance(272 * time.Second)

	var ticks []Tick
	tm.Subscribe(func(tk Tick) { ticks = append(ticks, tk) })
	tm.Freeze(270)

	assert.Equal(t, int64(270), tm.ElapsedSeconds())
	assert.InDelta(t, 45.0, tm.Amount(), 1e-9)
	require.Len(t, ticks, 1)
	assert.False(t, ticks[0].Running)
}

func TestTimer_MonotonicWhileRunning(t *testing.T) {
	tm, clk := newTestTimer(1)
	tm.Start()
	var last int64
	for i := 0; i < 20; i++ {
		clk.Advance(700 * time.Millisecond)
		e := tm.ElapsedSeconds()
		assert.GreaterOrEqual(t, e, last)
		assert.InDelta(t, AmountFor(e, 1), tm.Amount(), 1e-9)
		last = e
	}
}

func TestTimer_StartAtAdoptsEarlierStart(t *testing.T) {
	tm, clk := newTestTimer(1)
	tm.StartAt(clk.Now().Add(-2 * time.Minute))
	assert.Equal(t, int64(120), tm.ElapsedSeconds())

	// A future start instant is clamped to now.
	tm.Reset()
	tm.StartAt(clk.Now().Add(time.Minute))
	assert.Equal(t, int64(0), tm.ElapsedSeconds())
}

func TestTimer_ResetClears(t *testing.T) {
	tm, clk := newTestTimer(1)
	tm.Start()
	clk.Advance(10 * time.Second)
	tm.Reset()
	assert.Equal(t, int64(0), tm.ElapsedSeconds())
	assert.False(t, tm.Running())
}

func TestTimer_TicksUntilUnsubscribed(t *testing.T) {
	tm := NewTimer(60, WithInterval(5*time.Millisecond))
	defer tm.Reset()

	var mu sync.Mutex
	count := 0
	cancel := tm.Subscribe(func(Tick) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	tm.Start()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	seen := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, seen, count)
	mu.Unlock()
}
