package store

import (
	"sync"
	"time"
)

// WarnThrottle rate-limits degraded-mode log output so a store outage
// emits at most one warning per interval.
type WarnThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	nowFn    func() time.Time
}

// NewWarnThrottle creates a throttle with the given minimum interval.
func NewWarnThrottle(interval time.Duration) *WarnThrottle {
	return &WarnThrottle{interval: interval, nowFn: time.Now}
}

// Allow reports whether a warning may be emitted now.
func (w *WarnThrottle) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFn()
	if !w.last.IsZero() && now.Sub(w.last) < w.interval {
		return false
	}
	w.last = now
	return true
}
