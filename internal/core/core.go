// Package core wires the flight-control core together and exposes the
// callback surface the hardware event layer drives: sample ready, frame
// received, frame expected and link timeout.
//
// Every callback is short and non-blocking. Failures surface as status
// reads and diagnostic messages; no error crosses a callback.
package core

import (
	"errors"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/actuator"
	"flightcore/internal/attitude"
	"flightcore/internal/control"
	"flightcore/internal/diag"
	"flightcore/internal/failsafe"
	"flightcore/internal/rc"
	"flightcore/internal/scheduler"
)

var errNoIMU = errors.New("core: imu is not configured")

// Sensor is the IMU driver as the core sees it.
type Sensor interface {
	ReadSample() (accel, gyro r3.Vec, err error)
	Calibrate(gyro r3.Vec)
	Calibrated() bool
	ConfirmConnection() error
}

// Pilot is told about each valid RC frame (arm switch handling).
type Pilot interface {
	failsafe.Vehicle
	Command(rc.Frame)
}

type Config struct {
	Estimator attitude.Config
	Failsafe  failsafe.Config
	// Channels is the actuator channel count used for forced zero output.
	Channels int
}

type Deps struct {
	Clock      attitude.Clock
	IMU        Sensor
	Controller control.Controller
	Driver     actuator.Driver
	// Receiver may be attached later with SetReceiver.
	Receiver failsafe.Receiver
	Pilot    Pilot
	Sink     *diag.Sink
}

type Status struct {
	Mode        scheduler.Mode
	Initialized bool
	Calibrated  bool
	Attitude    [4]float64 // w, x, y, z
	Failsafe    failsafe.Status
	Control     control.Stats
	CalReadErrs uint64
	GateWrites  uint64
	GateError   string
}

// Core is the explicit context shared by the event handlers. The estimator
// is touched only from the sample path; mode, link health and failsafe
// state are atomics owned by their packages.
type Core struct {
	clock attitude.Clock
	sink  *diag.Sink
	imu   Sensor
	src   *linkedSource
	pilot Pilot

	Estimator *attitude.Estimator
	Gate      *actuator.Gate
	Loop      *control.Loop
	Watchdog  *failsafe.Watchdog
	Scheduler *scheduler.Scheduler

	calReadErrs atomic.Uint64
	snapshot    atomic.Pointer[[4]float64]
}

func New(cfg Config, deps Deps) *Core {
	clock := deps.Clock
	if clock == nil {
		clock = attitude.NewMonotonicClock()
	}
	c := &Core{clock: clock, sink: deps.Sink, imu: deps.IMU, pilot: deps.Pilot}

	c.Estimator = attitude.New(clock, cfg.Estimator)
	c.Gate = actuator.NewGate(deps.Driver, cfg.Channels)

	var vehicle failsafe.Vehicle
	if deps.Pilot != nil {
		vehicle = deps.Pilot
	}
	c.Watchdog = failsafe.NewWatchdog(cfg.Failsafe, clock, deps.Receiver, vehicle, c.Gate, deps.Sink)
	c.src = &linkedSource{src: deps.IMU, link: &c.Watchdog.IMU, clock: clock}
	c.Loop = control.NewLoop(c.src, c.Estimator, deps.Controller, c.Gate, deps.Sink)

	running := scheduler.HandlerFunc(func() {
		c.Loop.HandleSample()
		c.publish()
	})
	c.Scheduler = scheduler.New(scheduler.HandlerFunc(c.calibrate), running, c.Estimator, deps.IMU,
		scheduler.WithOnRunning(func() {
			c.sink.Message(diag.LevelSystem, "initialization is complete")
		}))
	return c
}

// SetReceiver attaches the RC receive path restarted on a missed frame.
func (c *Core) SetReceiver(rx failsafe.Receiver) {
	c.Watchdog.SetReceiver(rx)
}

// SetTimer attaches the frame timer reset on every received frame.
func (c *Core) SetTimer(t failsafe.Resetter) {
	c.Watchdog.SetTimer(t)
}

// Startup runs the pre-flight checks. A missing IMU is reported and startup
// proceeds; the core then stays CALIBRATING.
func (c *Core) Startup(sleep func(time.Duration)) {
	if sleep != nil {
		if err := attitude.SelfTest(c.clock, sleep, 10*time.Millisecond); err != nil {
			c.sink.Message(diag.LevelError, "elapsed clock self test: %v", err)
		} else {
			c.sink.Message(diag.LevelRuntime, "elapsed clock is working")
		}
	}
	if c.imu == nil {
		c.sink.Message(diag.LevelError, "imu is not configured")
		return
	}
	if err := c.imu.ConfirmConnection(); err != nil {
		c.sink.Message(diag.LevelError, "imu is not detected: %v", err)
		return
	}
	c.sink.Message(diag.LevelRuntime, "imu is detected")
}

// OnSampleReady is the IMU data-ready callback.
func (c *Core) OnSampleReady() {
	c.Scheduler.OnSampleReady()
}

// OnFrameReceived is the RC frame callback.
func (c *Core) OnFrameReceived(f rc.Frame) {
	c.Watchdog.OnFrame(f)
	if f.Failsafe || f.FrameLost {
		return
	}
	c.Loop.SetCommand(f)
	if c.pilot != nil {
		c.pilot.Command(f)
	}
}

// OnFrameExpected is the short-interval timer callback.
func (c *Core) OnFrameExpected() {
	c.Watchdog.OnFrameExpected()
}

// OnLinkTimeout is the long-interval timer callback.
func (c *Core) OnLinkTimeout() {
	c.Watchdog.OnLinkTimeout()
}

func (c *Core) Mode() scheduler.Mode { return c.Scheduler.Mode() }

// Running is closed once the core has switched to RUNNING.
func (c *Core) Running() <-chan struct{} { return c.Scheduler.Done() }

// Status is safe from any goroutine.
func (c *Core) Status() Status {
	s := Status{
		Mode:        c.Scheduler.Mode(),
		Calibrated:  c.imu != nil && c.imu.Calibrated(),
		Failsafe:    c.Watchdog.Status(),
		Control:     c.Loop.Stats(),
		CalReadErrs: c.calReadErrs.Load(),
		GateWrites:  c.Gate.Writes(),
		GateError:   c.Gate.LastError(),
	}
	if p := c.snapshot.Load(); p != nil {
		s.Attitude = *p
		s.Initialized = true
	}
	return s
}

// calibrate is the CALIBRATING handler: level the estimator and feed the
// gyro bias accumulator.
func (c *Core) calibrate() {
	accel, gyro, err := c.src.ReadSample()
	if err != nil {
		c.calReadErrs.Add(1)
		c.sink.Message(diag.LevelDebug, "calibration: read sample: %v", err)
		return
	}
	c.Estimator.SetGyro(gyro)
	c.Estimator.SetAccel(accel)
	c.Estimator.Update()
	c.imu.Calibrate(gyro)
	c.publish()
}

// publish copies the orientation for readers off the sample path.
func (c *Core) publish() {
	if !c.Estimator.Initialized() {
		return
	}
	q := c.Estimator.Attitude()
	c.snapshot.Store(&[4]float64{q.Real, q.Imag, q.Jmag, q.Kmag})
}

// linkedSource marks the IMU link alive on every successful read.
type linkedSource struct {
	src   Sensor
	link  *failsafe.Link
	clock attitude.Clock
}

func (s *linkedSource) ReadSample() (accel, gyro r3.Vec, err error) {
	if s.src == nil {
		return r3.Vec{}, r3.Vec{}, errNoIMU
	}
	accel, gyro, err = s.src.ReadSample()
	if err == nil {
		s.link.Touch(s.clock.Elapsed())
	}
	return accel, gyro, err
}
