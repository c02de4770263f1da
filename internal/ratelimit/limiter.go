package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded   bool
	Capability string
	Current    int
	Limit      int
	Reason     string
}

// window holds the timestamps of allowed calls for one capability.
type window struct {
	mu    sync.Mutex
	calls []time.Time
}

// prune drops timestamps at or before the window start. Caller holds w.mu.
func (w *window) prune(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// Limiter tracks allowed invocations per capability in sliding windows.
// Updates to one capability's window are serialized; different
// capabilities only contend on the map lookup.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates an empty Limiter. Windows live in memory only and start
// empty on every process start.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) window(name string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[name]
	if !ok {
		w = &window{}
		l.windows[name] = w
	}
	return w
}

// Check prunes expired calls for name and, if fewer than limit.MaxRequests
// remain, records the call and allows it. A disabled limit always allows
// and records nothing.
func (l *Limiter) Check(name string, limit Limit) CheckResult {
	return l.check(name, limit, true)
}

// Peek reports what Check would return without recording a call.
func (l *Limiter) Peek(name string, limit Limit) CheckResult {
	return l.check(name, limit, false)
}

func (l *Limiter) check(name string, limit Limit, record bool) CheckResult {
	if !limit.Enabled() {
		return CheckResult{Capability: name}
	}

	w := l.window(name)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, limit.Window)

	count := len(w.calls)
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded:   true,
			Capability: name,
			Current:    count,
			Limit:      limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d calls to %s in %s window",
				count, limit.MaxRequests, name, limit.Window),
		}
	}

	if !record {
		return CheckResult{Capability: name, Current: count, Limit: limit.MaxRequests}
	}
	w.calls = append(w.calls, now)
	return CheckResult{
		Capability: name,
		Current:    count + 1,
		Limit:      limit.MaxRequests,
	}
}

// Count returns the number of recorded calls for name within the last span.
func (l *Limiter) Count(name string, span time.Duration) int {
	l.mu.Lock()
	w, ok := l.windows[name]
	l.mu.Unlock()
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := l.now().Add(-span)
	n := 0
	for _, t := range w.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset clears the window for name.
func (l *Limiter) Reset(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, name)
}
