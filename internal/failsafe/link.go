package failsafe

import (
	"sync/atomic"
	"time"
)

// Link records when a periodic event source was last heard from. Touch is
// called by the producing context; readers only load.
type Link struct {
	last  atomic.Int64
	count atomic.Uint64
}

// Touch records an event at now (monotonic time since start).
func (l *Link) Touch(now time.Duration) {
	l.last.Store(int64(now))
	l.count.Add(1)
}

func (l *Link) LastSeen() time.Duration { return time.Duration(l.last.Load()) }

func (l *Link) Count() uint64 { return l.count.Load() }

// Stale reports whether the link has been seen and then stayed silent for
// longer than max. A link that never came up is not stale.
func (l *Link) Stale(now, max time.Duration) bool {
	if l.count.Load() == 0 {
		return false
	}
	return now-l.LastSeen() > max
}
