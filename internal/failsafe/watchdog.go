// Package failsafe detects loss of the radio-control and sensor links and
// forces the actuators to a safe output.
package failsafe

import (
	"sync/atomic"
	"time"

	"flightcore/internal/actuator"
	"flightcore/internal/diag"
	"flightcore/internal/rc"
)

// Reason is a bit set of active failsafe causes.
type Reason uint32

const (
	ReasonRC Reason = 1 << iota
	ReasonSensor
)

func (r Reason) String() string {
	switch r {
	case 0:
		return "none"
	case ReasonRC:
		return "rc"
	case ReasonSensor:
		return "sensor"
	case ReasonRC | ReasonSensor:
		return "rc+sensor"
	}
	return "unknown"
}

// Receiver is the RC receive path. Restart aborts the frame in progress and
// re-arms reception.
type Receiver interface {
	Restart() error
}

// Vehicle is informed of link state so its controller can apply its own
// hold or decay policy.
type Vehicle interface {
	SetFrameLost(bool)
	Failsafe()
	ClearFailsafe()
}

// Resetter restarts the frame timer; the hardware equivalent zeroes the
// timer counter.
type Resetter interface {
	Reset()
}

// Clock is a monotonic time source.
type Clock interface {
	Elapsed() time.Duration
}

type Config struct {
	// SensorTimeout is the longest IMU silence tolerated once samples have
	// started.
	SensorTimeout time.Duration
}

type Status struct {
	FrameLost bool
	Reasons   Reason

	Frames        uint64
	FrameExpected uint64
	LinkTimeouts  uint64
	RxRestartErrs uint64
	RCLastSeen    time.Duration
	IMULastSeen   time.Duration
}

type Watchdog struct {
	cfg     Config
	clock   Clock
	rx      Receiver
	vehicle Vehicle
	gate    *actuator.Gate
	sink    *diag.Sink

	timer atomic.Pointer[resetterBox]

	RC  Link
	IMU Link

	frameLost atomic.Bool
	reasons   atomic.Uint32

	frameExpected atomic.Uint64
	linkTimeouts  atomic.Uint64
	restartErrs   atomic.Uint64
}

type resetterBox struct{ r Resetter }

func NewWatchdog(cfg Config, clock Clock, rx Receiver, vehicle Vehicle, gate *actuator.Gate, sink *diag.Sink) *Watchdog {
	if cfg.SensorTimeout <= 0 {
		cfg.SensorTimeout = 100 * time.Millisecond
	}
	return &Watchdog{cfg: cfg, clock: clock, rx: rx, vehicle: vehicle, gate: gate, sink: sink}
}

// SetTimer attaches the frame timer reset on every received frame. It may be
// attached after construction because the timer's callbacks point back at
// the watchdog.
func (w *Watchdog) SetTimer(t Resetter) {
	w.timer.Store(&resetterBox{r: t})
}

// SetReceiver attaches the RC receive path.
func (w *Watchdog) SetReceiver(rx Receiver) {
	w.rx = rx
}

// OnFrame handles a frame-received event.
func (w *Watchdog) OnFrame(f rc.Frame) {
	now := w.clock.Elapsed()
	if b := w.timer.Load(); b != nil && b.r != nil {
		b.r.Reset()
	}
	w.RC.Touch(now)

	switch {
	case f.Failsafe:
		w.engage(ReasonRC)
		w.sink.Message(diag.LevelRuntime, "rc failsafe reported by receiver")
	case f.FrameLost:
		w.setFrameLost(true)
	default:
		w.setFrameLost(false)
		w.release(ReasonRC)
	}
	w.CheckSensor(now)
}

// OnFrameExpected handles the short-interval timer event: one expected frame
// is missing. Reception is restarted and the vehicle is told the frame was
// lost; actuator output is left alone.
func (w *Watchdog) OnFrameExpected() {
	w.frameExpected.Add(1)
	if w.rx != nil {
		if err := w.rx.Restart(); err != nil {
			w.restartErrs.Add(1)
			w.sink.Message(diag.LevelDebug, "rc restart: %v", err)
		}
	}
	w.setFrameLost(true)
	w.CheckSensor(w.clock.Elapsed())
}

// OnLinkTimeout handles the long-interval timer event: the RC link has
// failed. Output is forced to zero regardless of what the control path is
// computing.
func (w *Watchdog) OnLinkTimeout() {
	w.linkTimeouts.Add(1)
	w.engage(ReasonRC)
	w.sink.Message(diag.LevelRuntime, "rc link timeout, failsafe engaged")
	w.CheckSensor(w.clock.Elapsed())
}

// CheckSensor engages or releases the sensor failsafe from IMU link health.
func (w *Watchdog) CheckSensor(now time.Duration) {
	if w.IMU.Stale(now, w.cfg.SensorTimeout) {
		if Reason(w.reasons.Load())&ReasonSensor == 0 {
			w.sink.Message(diag.LevelRuntime, "imu silent for %s, failsafe engaged", now-w.IMU.LastSeen())
		}
		w.engage(ReasonSensor)
		return
	}
	w.release(ReasonSensor)
}

// FrameLost reports the degraded-link flag.
func (w *Watchdog) FrameLost() bool { return w.frameLost.Load() }

// Reasons reports the active failsafe causes.
func (w *Watchdog) Reasons() Reason { return Reason(w.reasons.Load()) }

// Failsafe reports whether any failsafe cause is active.
func (w *Watchdog) Failsafe() bool { return w.reasons.Load() != 0 }

func (w *Watchdog) Status() Status {
	return Status{
		FrameLost:     w.frameLost.Load(),
		Reasons:       Reason(w.reasons.Load()),
		Frames:        w.RC.Count(),
		FrameExpected: w.frameExpected.Load(),
		LinkTimeouts:  w.linkTimeouts.Load(),
		RxRestartErrs: w.restartErrs.Load(),
		RCLastSeen:    w.RC.LastSeen(),
		IMULastSeen:   w.IMU.LastSeen(),
	}
}

func (w *Watchdog) setFrameLost(v bool) {
	if w.frameLost.Swap(v) != v && v {
		w.sink.Message(diag.LevelRuntime, "rc frame lost")
	}
	if w.vehicle != nil {
		w.vehicle.SetFrameLost(v)
	}
}

func (w *Watchdog) engage(r Reason) {
	for {
		old := w.reasons.Load()
		if w.reasons.CompareAndSwap(old, old|uint32(r)) {
			break
		}
	}
	w.settle()
}

func (w *Watchdog) release(r Reason) {
	var old, next uint32
	for {
		old = w.reasons.Load()
		next = old &^ uint32(r)
		if w.reasons.CompareAndSwap(old, next) {
			break
		}
	}
	if next != 0 {
		return
	}
	if old == next && (w.gate == nil || !w.gate.Engaged()) {
		return
	}
	w.settle()
}

// settle applies the gate and vehicle side of the current reason bits. The
// bits can change under a concurrent engage or release while the side
// effects run, so it repeats until they hold still; the last pass matches
// the final bits.
func (w *Watchdog) settle() {
	for {
		cur := w.reasons.Load()
		if cur != 0 {
			if w.gate != nil {
				w.gate.Engage()
			}
			if w.vehicle != nil {
				w.vehicle.Failsafe()
			}
		} else {
			if w.gate != nil {
				w.gate.Release()
			}
			if w.vehicle != nil {
				w.vehicle.ClearFailsafe()
			}
		}
		if w.reasons.Load() == cur {
			return
		}
	}
}
