package failsafe

import (
	"sync"
	"sync/atomic"
	"time"
)

var afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

type stopper interface {
	Stop() bool
}

// Timer emulates the receiver watchdog timer: a compare event FrameExpected
// after the last Reset and an overflow event LinkTimeout after it. Without a
// Reset the counter wraps at overflow and both events repeat.
//
// Each Reset bumps a generation; callbacks armed under an older generation
// are discarded, so a frame racing a pending expiry cannot be overridden by
// it. The generation check and the callback run under fire, and Reset bumps
// the generation under fire too: an expiry either finishes before the frame
// is handled or does not run at all.
type Timer struct {
	frameExpected time.Duration
	linkTimeout   time.Duration
	onExpected    func()
	onTimeout     func()

	gen  atomic.Uint64
	fire sync.Mutex

	mu      sync.Mutex
	pending []stopper
	stopped bool
}

func NewTimer(frameExpected, linkTimeout time.Duration, onExpected, onTimeout func()) *Timer {
	if frameExpected <= 0 {
		frameExpected = 25 * time.Millisecond
	}
	if linkTimeout <= frameExpected {
		linkTimeout = 10 * frameExpected
	}
	return &Timer{
		frameExpected: frameExpected,
		linkTimeout:   linkTimeout,
		onExpected:    onExpected,
		onTimeout:     onTimeout,
	}
}

// Start arms the timer from zero.
func (t *Timer) Start() {
	t.Reset()
}

// Reset zeroes the counter.
func (t *Timer) Reset() {
	t.fire.Lock()
	g := t.gen.Add(1)
	t.fire.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.arm(g)
}

// Stop cancels pending events; the timer cannot be restarted.
func (t *Timer) Stop() {
	t.fire.Lock()
	t.gen.Add(1)
	t.fire.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.cancelPending()
}

// Generation is the number of resets so far.
func (t *Timer) Generation() uint64 { return t.gen.Load() }

// arm must be called with mu held.
func (t *Timer) arm(g uint64) {
	t.cancelPending()
	t.pending = append(t.pending,
		afterFunc(t.frameExpected, func() {
			t.fire.Lock()
			defer t.fire.Unlock()
			if t.gen.Load() == g && t.onExpected != nil {
				t.onExpected()
			}
		}),
		afterFunc(t.linkTimeout, func() {
			t.fire.Lock()
			current := t.gen.Load() == g
			if current && t.onTimeout != nil {
				t.onTimeout()
			}
			t.fire.Unlock()
			if current {
				t.wrap(g)
			}
		}),
	)
}

// wrap re-arms after overflow when no Reset intervened.
func (t *Timer) wrap(g uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.gen.Load() != g {
		return
	}
	t.arm(g)
}

func (t *Timer) cancelPending() {
	for _, p := range t.pending {
		p.Stop()
	}
	t.pending = t.pending[:0]
}
