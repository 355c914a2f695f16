// Package control runs one control cycle per IMU sample once the vehicle is
// RUNNING: estimate attitude, read out roll/pitch/yaw-rate, call the
// controller and forward its command to the actuators.
package control

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/actuator"
	"flightcore/internal/attitude"
	"flightcore/internal/diag"
	"flightcore/internal/rc"
)

// Input is what the controller sees each cycle.
type Input struct {
	Roll    float64 // rad
	Pitch   float64 // rad
	YawRate float64 // rad/s, raw gyro z

	// Command is the latest pilot frame, zero until one arrives.
	Command rc.Frame
}

// SampleSource delivers the newest accelerometer and gyroscope reading.
type SampleSource interface {
	ReadSample() (accel, gyro r3.Vec, err error)
}

type Estimator interface {
	SetGyro(r3.Vec)
	SetAccel(r3.Vec)
	Update()
	Attitude() quat.Number
}

// Controller maps the attitude readout and pilot command to actuator
// speeds. The result is forwarded unchanged.
type Controller interface {
	Compute(Input) actuator.Command
}

type Stats struct {
	Cycles      uint64
	ReadErrors  uint64
	OutputErrs  uint64
	LastCommand actuator.Command
}

type Loop struct {
	src  SampleSource
	est  Estimator
	ctrl Controller
	out  actuator.Driver
	sink *diag.Sink

	command atomic.Pointer[rc.Frame]
	last    atomic.Pointer[actuator.Command]

	cycles     atomic.Uint64
	readErrs   atomic.Uint64
	outputErrs atomic.Uint64
}

func NewLoop(src SampleSource, est Estimator, ctrl Controller, out actuator.Driver, sink *diag.Sink) *Loop {
	return &Loop{src: src, est: est, ctrl: ctrl, out: out, sink: sink}
}

// SetCommand stores the latest pilot frame for the next cycle.
func (l *Loop) SetCommand(f rc.Frame) {
	l.command.Store(&f)
}

// HandleSample runs one cycle. A failed sample read skips the cycle; there
// is no retry.
func (l *Loop) HandleSample() {
	accel, gyro, err := l.src.ReadSample()
	if err != nil {
		l.readErrs.Add(1)
		l.sink.Message(diag.LevelDebug, "control: read sample: %v", err)
		return
	}
	l.est.SetGyro(gyro)
	l.est.SetAccel(accel)
	l.est.Update()

	in := Input{YawRate: gyro.Z}
	in.Roll, in.Pitch = Readout(l.est.Attitude())
	if f := l.command.Load(); f != nil {
		in.Command = *f
	}

	cmd := l.ctrl.Compute(in)
	l.cycles.Add(1)
	l.last.Store(&cmd)
	if err := l.out.SetOutput(cmd); err != nil {
		l.outputErrs.Add(1)
		l.sink.Message(diag.LevelDebug, "control: set output: %v", err)
	}
	if l.sink.Enabled(diag.LevelDebug) {
		l.sink.Message(diag.LevelDebug, "%s", cmd)
	}
}

func (l *Loop) Stats() Stats {
	s := Stats{
		Cycles:     l.cycles.Load(),
		ReadErrors: l.readErrs.Load(),
		OutputErrs: l.outputErrs.Load(),
	}
	if c := l.last.Load(); c != nil {
		s.LastCommand = *c
	}
	return s
}

// Readout projects body up through q and returns roll and pitch as the
// arcsine of its x and y components. Only meaningful away from +-90 deg.
func Readout(q quat.Number) (roll, pitch float64) {
	up := attitude.Rotate(q, attitude.Up)
	return math.Asin(ClampUnit(up.X)), math.Asin(ClampUnit(up.Y))
}

// ClampUnit limits v to [-1, 1]. NaN maps to 0.
func ClampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
