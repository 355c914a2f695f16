package failsafe

import (
	"errors"
	"sync"
	"testing"
	"time"

	"flightcore/internal/actuator"
	"flightcore/internal/rc"
)

type fakeClock struct{ now time.Duration }

func (c *fakeClock) Elapsed() time.Duration { return c.now }

type fakeReceiver struct {
	restarts int
	err      error
}

func (r *fakeReceiver) Restart() error {
	r.restarts++
	return r.err
}

type fakeVehicle struct {
	frameLost  bool
	inFailsafe bool
	failsafes  int
	clears     int
}

func (v *fakeVehicle) SetFrameLost(b bool) { v.frameLost = b }

func (v *fakeVehicle) Failsafe() {
	v.failsafes++
	v.inFailsafe = true
}

func (v *fakeVehicle) ClearFailsafe() {
	v.clears++
	v.inFailsafe = false
}

type fakeDriver struct {
	mu   sync.Mutex
	cmds []actuator.Command
	// onZero runs once, outside the lock, on the next zero write.
	onZero func()
}

func (d *fakeDriver) SetOutput(c actuator.Command) error {
	d.mu.Lock()
	d.cmds = append(d.cmds, append(actuator.Command(nil), c...))
	hook := d.onZero
	if c.IsZero() {
		d.onZero = nil
	} else {
		hook = nil
	}
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (d *fakeDriver) last() actuator.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cmds) == 0 {
		return nil
	}
	return d.cmds[len(d.cmds)-1]
}

type countingResetter struct{ n int }

func (r *countingResetter) Reset() { r.n++ }

type fixture struct {
	clk   *fakeClock
	rx    *fakeReceiver
	veh   *fakeVehicle
	drv   *fakeDriver
	gate  *actuator.Gate
	timer *countingResetter
	w     *Watchdog
}

func newFixture() *fixture {
	f := &fixture{
		clk:   &fakeClock{},
		rx:    &fakeReceiver{},
		veh:   &fakeVehicle{},
		drv:   &fakeDriver{},
		timer: &countingResetter{},
	}
	f.gate = actuator.NewGate(f.drv, 4)
	f.w = NewWatchdog(Config{SensorTimeout: 100 * time.Millisecond}, f.clk, f.rx, f.veh, f.gate, nil)
	f.w.SetTimer(f.timer)
	return f
}

func TestOnFrame_ResetsTimerAndClearsFrameLost(t *testing.T) {
	f := newFixture()
	f.w.OnFrameExpected()
	if !f.w.FrameLost() || !f.veh.frameLost {
		t.Fatalf("expected frame lost after missed frame")
	}
	f.clk.now = 30 * time.Millisecond
	f.w.OnFrame(rc.Frame{})
	if f.timer.n != 1 {
		t.Fatalf("timer resets=%d want 1", f.timer.n)
	}
	if f.w.FrameLost() || f.veh.frameLost {
		t.Fatalf("expected frame lost cleared")
	}
	if f.w.RC.LastSeen() != 30*time.Millisecond || f.w.RC.Count() != 1 {
		t.Fatalf("rc link last=%s count=%d", f.w.RC.LastSeen(), f.w.RC.Count())
	}
}

func TestOnFrameExpected_RestartsReceiverLeavesOutput(t *testing.T) {
	f := newFixture()
	_ = f.gate.SetOutput(actuator.Command{0.4, 0.4, 0.4, 0.4})
	f.w.OnFrameExpected()
	if f.rx.restarts != 1 {
		t.Fatalf("restarts=%d want 1", f.rx.restarts)
	}
	if got := f.drv.last(); got.IsZero() {
		t.Fatalf("output=%v want untouched", got)
	}
	if f.w.Failsafe() {
		t.Fatalf("frame lost must not engage failsafe")
	}
	_ = f.gate.SetOutput(actuator.Command{0.5, 0.5, 0.5, 0.5})
	if got := f.drv.last(); got.IsZero() {
		t.Fatalf("control output should still pass while frame lost")
	}
}

func TestOnFrameExpected_RestartErrorCounted(t *testing.T) {
	f := newFixture()
	f.rx.err = errors.New("busy")
	f.w.OnFrameExpected()
	if got := f.w.Status().RxRestartErrs; got != 1 {
		t.Fatalf("restart errs=%d want 1", got)
	}
}

func TestOnLinkTimeout_ForcesZeroUntilValidFrame(t *testing.T) {
	f := newFixture()
	_ = f.gate.SetOutput(actuator.Command{0.6, 0.6, 0.6, 0.6})
	f.w.OnLinkTimeout()
	if got := f.drv.last(); !got.IsZero() {
		t.Fatalf("output=%v want zero", got)
	}
	if f.veh.failsafes != 1 || f.w.Reasons() != ReasonRC {
		t.Fatalf("failsafes=%d reasons=%v", f.veh.failsafes, f.w.Reasons())
	}
	// Concurrent control output is overridden.
	_ = f.gate.SetOutput(actuator.Command{0.9, 0.9, 0.9, 0.9})
	if got := f.drv.last(); !got.IsZero() {
		t.Fatalf("output=%v want zero while failsafe", got)
	}

	f.w.OnFrame(rc.Frame{})
	if f.w.Failsafe() || f.gate.Engaged() {
		t.Fatalf("expected failsafe released by valid frame")
	}
	if f.veh.clears != 1 {
		t.Fatalf("clears=%d want 1", f.veh.clears)
	}
	_ = f.gate.SetOutput(actuator.Command{0.3, 0.3, 0.3, 0.3})
	if got := f.drv.last(); got.IsZero() {
		t.Fatalf("expected pass-through after recovery")
	}
}

func TestOnFrame_FlagsFromDecoder(t *testing.T) {
	f := newFixture()
	f.w.OnFrame(rc.Frame{FrameLost: true})
	if !f.w.FrameLost() || f.w.Failsafe() {
		t.Fatalf("frameLost=%v failsafe=%v", f.w.FrameLost(), f.w.Failsafe())
	}
	f.w.OnFrame(rc.Frame{Failsafe: true})
	if !f.w.Failsafe() || f.veh.failsafes != 1 {
		t.Fatalf("expected failsafe from frame flag")
	}
	if got := f.drv.last(); !got.IsZero() {
		t.Fatalf("output=%v want zero", got)
	}
	// Both flagged frames still count as received.
	if f.timer.n != 2 {
		t.Fatalf("timer resets=%d want 2", f.timer.n)
	}
}

func TestCheckSensor_EngagesAndReleases(t *testing.T) {
	f := newFixture()
	f.w.CheckSensor(time.Second)
	if f.w.Failsafe() {
		t.Fatalf("never-seen imu must not engage")
	}
	f.w.IMU.Touch(0)
	f.w.CheckSensor(50 * time.Millisecond)
	if f.w.Failsafe() {
		t.Fatalf("fresh imu must not engage")
	}
	f.w.CheckSensor(200 * time.Millisecond)
	if f.w.Reasons() != ReasonSensor {
		t.Fatalf("reasons=%v want sensor", f.w.Reasons())
	}
	if got := f.drv.last(); !got.IsZero() {
		t.Fatalf("output=%v want zero", got)
	}
	f.w.IMU.Touch(210 * time.Millisecond)
	f.w.CheckSensor(220 * time.Millisecond)
	if f.w.Failsafe() {
		t.Fatalf("expected release after imu resumes")
	}
}

func TestRelease_KeepsOtherReason(t *testing.T) {
	f := newFixture()
	f.w.IMU.Touch(0)
	f.clk.now = time.Second
	f.w.OnLinkTimeout()
	if f.w.Reasons() != ReasonRC|ReasonSensor {
		t.Fatalf("reasons=%v want rc+sensor", f.w.Reasons())
	}
	f.w.OnFrame(rc.Frame{})
	if f.w.Reasons() != ReasonSensor || !f.gate.Engaged() {
		t.Fatalf("reasons=%v engaged=%v want sensor only, engaged", f.w.Reasons(), f.gate.Engaged())
	}
}

func TestRelease_DuringEngageLeavesVehicleClear(t *testing.T) {
	f := newFixture()
	// A valid frame lands while the link timeout is still forcing zero.
	f.drv.onZero = func() { f.w.OnFrame(rc.Frame{}) }
	f.w.OnLinkTimeout()

	if f.w.Failsafe() || f.gate.Engaged() {
		t.Fatalf("reasons=%v engaged=%v want released", f.w.Reasons(), f.gate.Engaged())
	}
	if f.veh.inFailsafe {
		t.Fatalf("vehicle left in failsafe with reasons=%v", f.w.Reasons())
	}
	for i := 0; i < 5; i++ {
		f.w.OnFrame(rc.Frame{})
	}
	if f.veh.inFailsafe {
		t.Fatalf("vehicle still in failsafe after valid frames")
	}
	_ = f.gate.SetOutput(actuator.Command{0.4, 0.4, 0.4, 0.4})
	if got := f.drv.last(); got.IsZero() {
		t.Fatalf("output=%v want pass-through", got)
	}
}

func TestReasonString(t *testing.T) {
	if (ReasonRC | ReasonSensor).String() != "rc+sensor" || Reason(0).String() != "none" {
		t.Fatalf("unexpected reason strings")
	}
}
