// Package billing keeps the duration clock of an active session.
package billing

import (
	"sort"
	"sync"
	"time"
)

// Tick is delivered to subscribers on every interval while the timer runs,
// and once more when it stops.
type Tick struct {
	ElapsedSeconds int64
	Amount         float64
	Running        bool
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// WithInterval sets the tick interval. Zero disables ticking.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) { t.interval = d }
}

// Timer counts whole seconds from its start instant. The amount is always
// derived from the elapsed time and the rate, it is never stored.
type Timer struct {
	mu       sync.Mutex
	rate     float64
	now      func() time.Time
	interval time.Duration

	running bool
	started time.Time
	frozen  int64

	subs   map[int]func(Tick)
	nextID int
	done   chan struct{}
}

// NewTimer creates a stopped timer billing ratePerMinute.
func NewTimer(ratePerMinute float64, opts ...Option) *Timer {
	if ratePerMinute < 0 {
		ratePerMinute = 0
	}
	t := &Timer{
		rate:     ratePerMinute,
		now:      time.Now,
		interval: time.Second,
		subs:     make(map[int]func(Tick)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start starts the timer at the current instant. Calling it while running
// keeps the original start instant.
func (t *Timer) Start() {
	t.StartAt(time.Time{})
}

// StartAt starts the timer as if it had been started at since. It is used to
// adopt a session that was already running before this process saw it.
// A zero since means now. No-op while running.
func (t *Timer) StartAt(since time.Time) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if since.IsZero() || since.After(now) {
		since = now
	}
	// Resume from a previous stop instead of restarting from zero.
	t.started = since.Add(-time.Duration(t.frozen) * time.Second)
	t.running = true
	if t.interval > 0 {
		t.done = make(chan struct{})
		go t.loop(t.done, t.interval)
	}
	t.mu.Unlock()
}

// Stop freezes the elapsed value. No-op when stopped.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.frozen = t.elapsedLocked()
	t.haltLocked()
	tick := t.tickLocked()
	subs := t.subscribersLocked()
	t.mu.Unlock()

	deliver(subs, tick)
}

// Freeze stops the timer at an authoritative total reported by the backend.
func (t *Timer) Freeze(totalSeconds int64) {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	t.mu.Lock()
	t.haltLocked()
	t.frozen = totalSeconds
	tick := t.tickLocked()
	subs := t.subscribersLocked()
	t.mu.Unlock()

	deliver(subs, tick)
}

// Reset stops the timer and clears the elapsed value.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.haltLocked()
	t.frozen = 0
	t.started = time.Time{}
	t.mu.Unlock()
}

// ElapsedSeconds returns whole seconds counted so far.
func (t *Timer) ElapsedSeconds() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

// Amount returns ElapsedSeconds × rate / 60.
func (t *Timer) Amount() float64 {
	return AmountFor(t.ElapsedSeconds(), t.rate)
}

// Running reports whether the timer is counting.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Rate returns the per minute rate.
func (t *Timer) Rate() float64 { return t.rate }

// Subscribe registers fn for ticks and returns a func that removes it.
func (t *Timer) Subscribe(fn func(Tick)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// AmountFor derives the billed amount for elapsed seconds at ratePerMinute.
func AmountFor(elapsedSeconds int64, ratePerMinute float64) float64 {
	return float64(elapsedSeconds) * ratePerMinute / 60
}

func (t *Timer) loop(done chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			if !t.running {
				t.mu.Unlock()
				return
			}
			tick := t.tickLocked()
			subs := t.subscribersLocked()
			t.mu.Unlock()
			deliver(subs, tick)
		}
	}
}

func (t *Timer) elapsedLocked() int64 {
	if !t.running {
		return t.frozen
	}
	d := t.now().Sub(t.started)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func (t *Timer) haltLocked() {
	t.running = false
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

func (t *Timer) tickLocked() Tick {
	e := t.elapsedLocked()
	return Tick{ElapsedSeconds: e, Amount: AmountFor(e, t.rate), Running: t.running}
}

func (t *Timer) subscribersLocked() []func(Tick) {
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Tick), 0, len(ids))
	for _, id := range ids {
		out = append(out, t.subs[id])
	}
	return out
}

func deliver(subs []func(Tick), tick Tick) {
	for _, fn := range subs {
		fn(tick)
	}
}
