// Package scheduler owns the one-way CALIBRATING to RUNNING transition and
// routes sample-ready events to the handler for the active mode.
package scheduler

import (
	"sync"
	"sync/atomic"
)

type Mode uint32

const (
	ModeCalibrating Mode = iota
	ModeRunning
)

func (m Mode) String() string {
	switch m {
	case ModeCalibrating:
		return "CALIBRATING"
	case ModeRunning:
		return "RUNNING"
	}
	return "UNKNOWN"
}

// Handler processes one sample-ready event. It must not block.
type Handler interface {
	HandleSample()
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func()

func (f HandlerFunc) HandleSample() { f() }

// Leveler reports whether the attitude estimator has leveled.
type Leveler interface {
	Initialized() bool
}

// Calibrator reports whether the IMU bias calibration has finished.
type Calibrator interface {
	Calibrated() bool
}

type dispatch struct {
	mode    Mode
	handler Handler
}

type Option func(*Scheduler)

// WithOnRunning registers fn to run once, in the promoting context, right
// after the switch to RUNNING.
func WithOnRunning(fn func()) Option {
	return func(s *Scheduler) { s.onRunning = fn }
}

// Scheduler resolves the active handler through a single atomic pointer.
// The pointer is written exactly once.
type Scheduler struct {
	current atomic.Pointer[dispatch]
	running *dispatch

	estimator Leveler
	imu       Calibrator
	onRunning func()

	done     chan struct{}
	doneOnce sync.Once
}

func New(calibrating, running Handler, estimator Leveler, imu Calibrator, opts ...Option) *Scheduler {
	s := &Scheduler{
		running:   &dispatch{mode: ModeRunning, handler: running},
		estimator: estimator,
		imu:       imu,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.current.Store(&dispatch{mode: ModeCalibrating, handler: calibrating})
	return s
}

// OnSampleReady is the sample-ready callback. While calibrating it checks
// readiness after the handler returns and promotes when both probes agree.
func (s *Scheduler) OnSampleReady() {
	d := s.current.Load()
	if d.handler != nil {
		d.handler.HandleSample()
	}
	if d.mode == ModeCalibrating {
		s.Promote()
	}
}

func (s *Scheduler) Mode() Mode {
	return s.current.Load().mode
}

// Ready reports whether the estimator is initialized and the IMU calibrated.
func (s *Scheduler) Ready() bool {
	return s.estimator != nil && s.imu != nil && s.estimator.Initialized() && s.imu.Calibrated()
}

// Promote switches to RUNNING if both readiness probes are true. It returns
// true only for the call that performed the switch.
func (s *Scheduler) Promote() bool {
	cur := s.current.Load()
	if cur.mode != ModeCalibrating || !s.Ready() {
		return false
	}
	if !s.current.CompareAndSwap(cur, s.running) {
		return false
	}
	s.doneOnce.Do(func() { close(s.done) })
	if s.onRunning != nil {
		s.onRunning()
	}
	return true
}

// Done is closed once the scheduler is RUNNING.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
