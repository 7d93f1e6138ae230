package engine

import (
	"sync"
	"time"
)

// Timer is a countdown clock for a timed session. It ticks once per second,
// exposes the remaining seconds, and fires Expired exactly once at zero.
// Untimed quizzes get no Timer at all; callers branch on nil instead of
// faking an infinite countdown.
type Timer struct {
	mu        sync.Mutex
	remaining int
	expired   chan struct{}
	stop      chan struct{}
	stopped   bool
	ticker    *time.Ticker
}

// StartTimer begins a countdown of the given whole minutes.
func StartTimer(minutes int) *Timer {
	ticker := time.NewTicker(time.Second)
	t := &Timer{
		remaining: minutes * 60,
		expired:   make(chan struct{}),
		stop:      make(chan struct{}),
		ticker:    ticker,
	}
	go t.run(ticker.C)
	return t
}

// newTimer drives the countdown from an injected tick source so tests can
// advance time deterministically.
func newTimer(seconds int, ticks <-chan time.Time) *Timer {
	t := &Timer{
		remaining: seconds,
		expired:   make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go t.run(ticks)
	return t
}

func (t *Timer) run(ticks <-chan time.Time) {
	for {
		select {
		case <-t.stop:
			return
		case <-ticks:
			t.mu.Lock()
			if t.stopped {
				t.mu.Unlock()
				return
			}
			t.remaining--
			if t.remaining <= 0 {
				t.remaining = 0
				t.stopped = true
				if t.ticker != nil {
					t.ticker.Stop()
				}
				close(t.expired)
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
		}
	}
}

// Remaining returns the seconds left, monotonically decreasing.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Expired is closed exactly once when the countdown reaches zero. A stopped
// timer never fires.
func (t *Timer) Expired() <-chan struct{} {
	return t.expired
}

// Stop cancels the countdown. Safe to call more than once, and after expiry;
// a stray tick after Stop must never drive a second submission.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.ticker != nil {
		t.ticker.Stop()
	}
	close(t.stop)
}
