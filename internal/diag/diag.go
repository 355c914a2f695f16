// Package diag is the diagnostic message sink used from event handlers.
//
// Messages are queued and written by a background goroutine; when the queue
// is full the message is dropped rather than delaying the caller.
package diag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level uint8

const (
	LevelError Level = iota
	LevelSystem
	LevelRuntime
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelSystem:
		return "system"
	case LevelRuntime:
		return "runtime"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel accepts the names returned by Level.String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "system":
		return LevelSystem, nil
	case "runtime", "":
		return LevelRuntime, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("diag: unknown level %q", s)
}

// Writer receives formatted messages. Send is only ever called from the
// sink goroutine.
type Writer interface {
	Send(payload []byte) error
}

type entry struct {
	at    time.Time
	level Level
	text  string
}

type Sink struct {
	threshold Level
	logger    *log.Logger
	writers   []Writer

	queue   chan entry
	dropped atomic.Uint64

	startOnce sync.Once
	wg        sync.WaitGroup
}

// New returns a sink passing messages at or below threshold. logger may be
// nil to use the standard logger.
func New(threshold Level, logger *log.Logger, writers ...Writer) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{
		threshold: threshold,
		logger:    logger,
		writers:   writers,
		queue:     make(chan entry, 64),
	}
}

// Enabled reports whether level would be emitted. A nil sink emits nothing.
func (s *Sink) Enabled(level Level) bool {
	return s != nil && level <= s.threshold
}

// Message formats and queues a message. It never blocks.
func (s *Sink) Message(level Level, format string, args ...any) {
	if !s.Enabled(level) {
		return
	}
	e := entry{at: time.Now().UTC(), level: level, text: fmt.Sprintf(format, args...)}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped counts messages discarded because the queue was full.
func (s *Sink) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Run writes queued messages until ctx is done, then drains what is left.
func (s *Sink) Run(ctx context.Context) {
	if s == nil {
		return
	}
	for {
		select {
		case e := <-s.queue:
			s.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.queue:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

// Start runs the sink in its own goroutine; Wait blocks until it has
// drained after ctx is done.
func (s *Sink) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Run(ctx)
		}()
	})
}

func (s *Sink) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *Sink) write(e entry) {
	s.logger.Printf("[%s] %s", e.level, e.text)
	if len(s.writers) == 0 {
		return
	}
	line := []byte(e.at.Format(time.RFC3339Nano) + " " + e.level.String() + " " + e.text + "\n")
	for _, w := range s.writers {
		_ = w.Send(line)
	}
}
