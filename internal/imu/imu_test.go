package imu

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/sensors/icm20948"
)

type fakeChip struct {
	s        icm20948.Sample
	err      error
	probeErr error
}

func (c *fakeChip) Read() (icm20948.Sample, error) { return c.s, c.err }
func (c *fakeChip) Probe() error                   { return c.probeErr }

func near(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestReadSample_ConvertsUnits(t *testing.T) {
	chip := &fakeChip{s: icm20948.Sample{Az: 1, Gx: 180, Gz: -90}}
	d := New(chip, Config{})
	accel, gyro, err := d.ReadSample()
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if accel != (r3.Vec{Z: 1}) {
		t.Fatalf("accel=%v", accel)
	}
	if !near(gyro, r3.Vec{X: math.Pi, Z: -math.Pi / 2}, 1e-12) {
		t.Fatalf("gyro=%v", gyro)
	}
}

func TestReadSample_Error(t *testing.T) {
	d := New(&fakeChip{err: errors.New("nack")}, Config{})
	if _, _, err := d.ReadSample(); err == nil {
		t.Fatalf("expected error")
	}
	s := d.Snapshot()
	if s.ReadErrors != 1 || s.LastError != "nack" {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestCalibrate_AveragesAndSubtracts(t *testing.T) {
	chip := &fakeChip{s: icm20948.Sample{Az: 1, Gx: 1, Gy: -2, Gz: 0.5}}
	d := New(chip, Config{CalibrationSamples: 10})
	for i := 0; i < 10; i++ {
		if d.Calibrated() {
			t.Fatalf("calibrated early at %d", i)
		}
		_, gyro, err := d.ReadSample()
		if err != nil {
			t.Fatalf("ReadSample: %v", err)
		}
		d.Calibrate(gyro)
	}
	if !d.Calibrated() {
		t.Fatalf("expected calibrated")
	}
	want := r3.Scale(degToRad, r3.Vec{X: 1, Y: -2, Z: 0.5})
	if !near(d.Bias(), want, 1e-12) {
		t.Fatalf("bias=%v want %v", d.Bias(), want)
	}
	_, gyro, _ := d.ReadSample()
	if !near(gyro, r3.Vec{}, 1e-12) {
		t.Fatalf("gyro after calibration=%v want 0", gyro)
	}

	// Further samples do not move the bias.
	d.Calibrate(r3.Vec{X: 0.1})
	if !near(d.Bias(), want, 1e-12) {
		t.Fatalf("bias changed after calibration")
	}
}

func TestCalibrate_MotionRestartsWindow(t *testing.T) {
	d := New(&fakeChip{}, Config{CalibrationSamples: 3, MotionThreshold: 0.1})
	d.Calibrate(r3.Vec{})
	d.Calibrate(r3.Vec{})
	d.Calibrate(r3.Vec{Z: 0.5})
	if d.Calibrated() {
		t.Fatalf("calibrated despite motion")
	}
	d.Calibrate(r3.Vec{})
	d.Calibrate(r3.Vec{})
	if d.Calibrated() {
		t.Fatalf("window not restarted")
	}
	d.Calibrate(r3.Vec{})
	if !d.Calibrated() {
		t.Fatalf("expected calibrated after three still samples")
	}
	if got := d.Snapshot().Restarts; got != 1 {
		t.Fatalf("restarts=%d want 1", got)
	}
}

func TestConfirmConnection(t *testing.T) {
	chip := &fakeChip{}
	d := New(chip, Config{})
	if err := d.ConfirmConnection(); err != nil {
		t.Fatalf("ConfirmConnection: %v", err)
	}
	chip.probeErr = errors.New("whoami=0x00")
	if err := d.ConfirmConnection(); err == nil {
		t.Fatalf("expected error")
	}
	var nilDev *Device
	if err := nilDev.ConfirmConnection(); err == nil {
		t.Fatalf("expected nil device error")
	}
}
