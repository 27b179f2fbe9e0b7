package notify

import (
	"sync"
	"time"
)

// Limiter gates outbound sends behind a throughput cap. Wait blocks the
// caller until a slot is free; it never blocks longer than the window.
type Limiter interface {
	Wait()
}

// RecipientLimiter gates sends per delivery target.
type RecipientLimiter interface {
	WaitFor(recipient int64)
}

// SlidingWindow is a mutex-guarded sliding-window counter: at most maxCalls
// within any rolling period. Safe for concurrent use from both engines and
// interactive handlers.
type SlidingWindow struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	calls    []time.Time

	// Injectable clock for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewSlidingWindow creates a limiter allowing maxCalls per period.
func NewSlidingWindow(maxCalls int, period time.Duration) *SlidingWindow {
	return &SlidingWindow{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Wait blocks until the current call fits inside the window, then records
// it. The sleep happens outside the lock so concurrent callers do not
// serialize on each other's waits.
func (l *SlidingWindow) Wait() {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return
		}

		wait := l.period - now.Sub(l.calls[0])
		l.mu.Unlock()

		if wait > 0 {
			l.sleep(wait)
		}
	}
}

// prune drops calls that have left the rolling window. Caller holds mu.
func (l *SlidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= l.period {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}

// PerRecipient maintains an independent sliding window per delivery target,
// created lazily on first send.
type PerRecipient struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	windows  map[int64]*SlidingWindow
}

// NewPerRecipient creates a per-recipient limiter allowing maxCalls per
// period for each distinct recipient.
func NewPerRecipient(maxCalls int, period time.Duration) *PerRecipient {
	return &PerRecipient{
		maxCalls: maxCalls,
		period:   period,
		windows:  make(map[int64]*SlidingWindow),
	}
}

// WaitFor blocks until the recipient's own window has a free slot.
func (p *PerRecipient) WaitFor(recipient int64) {
	p.mu.Lock()
	w, ok := p.windows[recipient]
	if !ok {
		w = NewSlidingWindow(p.maxCalls, p.period)
		p.windows[recipient] = w
	}
	p.mu.Unlock()

	w.Wait()
}

// NopLimiter is a Limiter that never blocks; used in tests.
type NopLimiter struct{}

func (NopLimiter) Wait() {}

// NopRecipientLimiter is a RecipientLimiter that never blocks.
type NopRecipientLimiter struct{}

func (NopRecipientLimiter) WaitFor(int64) {}
