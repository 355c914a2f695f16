package attitude

import (
	"fmt"
	"time"
)

// Clock is a monotonic time source for estimator bookkeeping.
type Clock interface {
	Elapsed() time.Duration
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock backed by the runtime monotonic clock,
// starting at zero.
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Elapsed() time.Duration {
	return time.Since(c.start)
}

// SelfTest checks that clock advances at roughly the wall rate across one
// call to sleep(probe). It returns an error when the measured interval is off
// by more than half the probe.
func SelfTest(clock Clock, sleep func(time.Duration), probe time.Duration) error {
	if clock == nil {
		return fmt.Errorf("attitude: clock is nil")
	}
	if probe <= 0 {
		probe = 10 * time.Millisecond
	}
	before := clock.Elapsed()
	sleep(probe)
	got := clock.Elapsed() - before
	if got < probe/2 || got > probe+probe/2 {
		return fmt.Errorf("attitude: clock measured %s over a %s probe", got, probe)
	}
	return nil
}
