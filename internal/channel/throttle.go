package channel

import (
	"sync"
	"time"
)

// Debouncer collapses a burst of Schedule calls into a single send, fired
// with the payload of the last call once the quiet period elapses. Each
// Schedule cancels the previously pending send.
type Debouncer[T any] struct {
	delay time.Duration
	send  func(T)

	mu    sync.Mutex
	timer *time.Timer
}

func NewDebouncer[T any](delay time.Duration, send func(T)) *Debouncer[T] {
	return &Debouncer[T]{
		delay: delay,
		send:  send,
	}
}

// Schedule replaces any pending send with one carrying payload.
func (d *Debouncer[T]) Schedule(payload T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.send(payload)
	})
}

// Cancel drops the pending send, if any. Safe to call repeatedly.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// RateLimiter drops calls that arrive sooner than the configured interval
// after the last allowed one. There is no trailing send: a dropped call is
// gone, freshness over delivery.
type RateLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether a call at this instant may proceed, and if so marks
// it as the last allowed one.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
