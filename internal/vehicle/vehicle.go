// Package vehicle holds the multicopter's arm state and the reference
// stabilizing controller used by the flight binary.
package vehicle

import (
	"context"
	"sync/atomic"
	"time"

	"flightcore/internal/diag"
	"flightcore/internal/rc"
)

type Mode int32

const (
	ModeDisarm Mode = iota
	ModeArm
	ModeFailsafe
)

func (m Mode) String() string {
	switch m {
	case ModeDisarm:
		return "DISARM"
	case ModeArm:
		return "ARM"
	case ModeFailsafe:
		return "FAILSAFE"
	}
	return "UNKNOWN"
}

type Config struct {
	// ArmThrottleMax is the highest throttle (0..1) at which the arm switch
	// is honoured.
	ArmThrottleMax float64
}

// Vehicle tracks the main mode. Failsafe and frame-lost come from the
// watchdog; arming comes from the pilot's switch. After a failsafe the
// switch has to pass through disarm before the vehicle can arm again.
type Vehicle struct {
	cfg  Config
	sink *diag.Sink

	mode       atomic.Int32
	frameLost  atomic.Bool
	waitDisarm atomic.Bool
}

func New(cfg Config, sink *diag.Sink) *Vehicle {
	if cfg.ArmThrottleMax <= 0 {
		cfg.ArmThrottleMax = 0.05
	}
	return &Vehicle{cfg: cfg, sink: sink}
}

func (v *Vehicle) Mode() Mode { return Mode(v.mode.Load()) }

func (v *Vehicle) Armed() bool { return v.Mode() == ModeArm }

func (v *Vehicle) FrameLost() bool { return v.frameLost.Load() }

func (v *Vehicle) SetFrameLost(lost bool) { v.frameLost.Store(lost) }

// Failsafe enters FAILSAFE from any mode.
func (v *Vehicle) Failsafe() {
	v.waitDisarm.Store(true)
	if prev := Mode(v.mode.Swap(int32(ModeFailsafe))); prev != ModeFailsafe {
		v.sink.Message(diag.LevelRuntime, "vehicle: %s -> FAILSAFE", prev)
	}
}

// ClearFailsafe drops back to DISARM.
func (v *Vehicle) ClearFailsafe() {
	if v.mode.CompareAndSwap(int32(ModeFailsafe), int32(ModeDisarm)) {
		v.sink.Message(diag.LevelRuntime, "vehicle: FAILSAFE -> DISARM")
	}
}

// Command applies the arm switch of a valid pilot frame.
func (v *Vehicle) Command(f rc.Frame) {
	if f.Failsafe || f.FrameLost {
		return
	}
	if !f.Arm {
		v.waitDisarm.Store(false)
		if v.mode.CompareAndSwap(int32(ModeArm), int32(ModeDisarm)) {
			v.sink.Message(diag.LevelRuntime, "vehicle: disarmed")
		}
		return
	}
	if v.waitDisarm.Load() || f.Throttle > v.cfg.ArmThrottleMax {
		return
	}
	if v.mode.CompareAndSwap(int32(ModeDisarm), int32(ModeArm)) {
		v.sink.Message(diag.LevelRuntime, "vehicle: armed")
	}
}

// LEDState is the status LED level for the given blink phase: steady on
// when armed, off when disarmed, blinking otherwise.
func (v *Vehicle) LEDState(phase bool) bool {
	switch v.Mode() {
	case ModeArm:
		return true
	case ModeDisarm:
		return false
	}
	return phase
}

// Pin is a digital output.
type Pin interface {
	Set(bool) error
}

// RunLED drives pin from LEDState every interval until ctx is done, then
// turns it off.
func (v *Vehicle) RunLED(ctx context.Context, pin Pin, interval time.Duration) {
	if pin == nil {
		return
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	var phase bool
	var failed bool
	for {
		select {
		case <-ctx.Done():
			_ = pin.Set(false)
			return
		case <-t.C:
			phase = !phase
			if err := pin.Set(v.LEDState(phase)); err != nil && !failed {
				failed = true
				v.sink.Message(diag.LevelError, "vehicle: status led: %v", err)
			}
		}
	}
}
