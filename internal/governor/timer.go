// Package governor enforces per-engine resource ceilings: a CPU usage timer
// that can be paused around host work, a live heap watcher, and a budget of
// expensive host operations.
package governor

import (
	"sync"
	"time"
)

// UsageTimer accumulates the time spent inside script calls and fires once
// when the accumulated time reaches the limit. Time spent while paused is not
// counted. A zero limit disables expiry.
type UsageTimer struct {
	mu       sync.Mutex
	limit    time.Duration
	onExpire func()

	used    time.Duration
	since   time.Time
	running bool
	depth   int
	pauses  int
	expired bool
	gen     uint64
	timer   *time.Timer
}

// NewUsageTimer returns a stopped timer.
func NewUsageTimer(limit time.Duration, onExpire func()) *UsageTimer {
	return &UsageTimer{limit: limit, onExpire: onExpire}
}

// SetOnExpire replaces the expiry callback.
func (t *UsageTimer) SetOnExpire(f func()) {
	t.mu.Lock()
	t.onExpire = f
	t.mu.Unlock()
}

// Limit returns the configured limit.
func (t *UsageTimer) Limit() time.Duration { return t.limit }

// Enter starts counting for a script call and returns the function that ends
// it. A call entered while the timer is paused, such as a host callback
// re-entering the script, counts until it returns, after which the paused
// state is restored.
func (t *UsageTimer) Enter() (leave func()) {
	t.mu.Lock()
	saved := t.pauses
	t.pauses = 0
	t.depth++
	fire := t.resumeLocked()
	t.mu.Unlock()
	if fire != nil {
		fire()
	}

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.depth--
		t.pauses = saved
		if t.depth == 0 || saved > 0 {
			t.stopLocked()
		}
	}
}

// Pause stops counting. Pauses nest; each must be matched by Unpause.
func (t *UsageTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauses++
	if t.pauses == 1 {
		t.stopLocked()
	}
}

// Unpause undoes one Pause.
func (t *UsageTimer) Unpause() {
	t.mu.Lock()
	if t.pauses > 0 {
		t.pauses--
	}
	var fire func()
	if t.pauses == 0 && t.depth > 0 {
		fire = t.resumeLocked()
	}
	t.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// Paused reports whether at least one Pause is outstanding.
func (t *UsageTimer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauses > 0
}

// Used returns the accumulated time.
func (t *UsageTimer) Used() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.used + time.Since(t.since)
	}
	return t.used
}

// Expired reports whether the limit was reached.
func (t *UsageTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Stop stops counting and disarms the expiry timer.
func (t *UsageTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *UsageTimer) stopLocked() {
	if !t.running {
		return
	}
	t.used += time.Since(t.since)
	t.running = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// resumeLocked starts counting. It returns the expiry callback when the
// budget is already spent; the caller runs it after unlocking.
func (t *UsageTimer) resumeLocked() func() {
	if t.running || t.expired {
		return nil
	}
	t.running = true
	t.since = time.Now()
	if t.limit <= 0 {
		return nil
	}
	remaining := t.limit - t.used
	if remaining <= 0 {
		return t.expireLocked()
	}
	gen := t.gen
	t.timer = time.AfterFunc(remaining, func() { t.fire(gen) })
	return nil
}

func (t *UsageTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.expired {
		t.mu.Unlock()
		return
	}
	var f func()
	if used := t.used + time.Since(t.since); used >= t.limit {
		f = t.expireLocked()
	} else {
		t.timer = time.AfterFunc(t.limit-used, func() { t.fire(gen) })
	}
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

func (t *UsageTimer) expireLocked() func() {
	t.expired = true
	limitExceeded.WithLabelValues(kindCPU).Inc()
	return t.onExpire
}
