package sim

import (
	"os"
	"sync"
	"time"

	"flightcore/internal/rc"
)

var sleep = time.Sleep

type RCConfig struct {
	Period time.Duration
	// DropAfter stops transmitting after this long; zero never.
	DropAfter time.Duration
	// ArmAfter raises the arm switch after this long; zero never.
	ArmAfter time.Duration
	Channels rc.ChannelMap
}

// RC emits SBUS frames on a schedule. It satisfies rc.Port, so frames go
// through the real decoder.
type RC struct {
	cfg RCConfig
	now func() time.Duration

	mu      sync.Mutex
	pending []byte
	next    time.Duration
	closed  bool
	frames  uint64
}

// NewRC returns a transmitter driven by now, a monotonic time since start.
func NewRC(cfg RCConfig, now func() time.Duration) *RC {
	if cfg.Period <= 0 {
		cfg.Period = 14 * time.Millisecond
	}
	if cfg.Channels == (rc.ChannelMap{}) {
		cfg.Channels = rc.DefaultChannelMap()
	}
	return &RC{cfg: cfg, now: now}
}

// Read returns the next frame's bytes once it is due. With nothing due it
// waits at most one period and returns 0, nil.
func (s *RC) Read(b []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, os.ErrClosed
	}
	if len(s.pending) == 0 {
		t := s.now()
		if t < s.next || s.dropped(t) {
			wait := s.cfg.Period
			if t < s.next && s.next-t < wait {
				wait = s.next - t
			}
			s.mu.Unlock()
			sleep(wait)
			return 0, nil
		}
		f := s.frame(t)
		s.pending = f[:]
		s.next = t + s.cfg.Period
		s.frames++
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

func (s *RC) Flush() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

func (s *RC) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Frames counts frames generated.
func (s *RC) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *RC) dropped(t time.Duration) bool {
	return s.cfg.DropAfter > 0 && t >= s.cfg.DropAfter
}

func (s *RC) frame(t time.Duration) [25]byte {
	var ch [rc.NumChannels]uint16
	for i := range ch {
		ch[i] = rc.ChannelValue(0)
	}
	m := s.cfg.Channels
	ch[m.Throttle] = rc.ChannelValue(-1)
	ch[m.Arm] = rc.ChannelValue(-1)
	if s.cfg.ArmAfter > 0 && t >= s.cfg.ArmAfter {
		ch[m.Arm] = rc.ChannelValue(1)
	}
	return rc.EncodeFrame(ch, false, false)
}
