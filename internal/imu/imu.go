// Package imu adapts the IMU chip driver to the flight core: SI units,
// gyro bias calibration, and a connectivity probe.
package imu

import (
	"fmt"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/sensors/icm20948"
)

const degToRad = math.Pi / 180.0

// Chip is the register-level driver.
type Chip interface {
	Read() (icm20948.Sample, error)
	Probe() error
}

type Config struct {
	// CalibrationSamples is the number of consecutive still samples averaged
	// into the gyro bias.
	CalibrationSamples int
	// MotionThreshold (rad/s) discards the accumulated window when any gyro
	// axis exceeds it, so the vehicle has to be held still.
	MotionThreshold float64
}

func DefaultConfig() Config {
	return Config{CalibrationSamples: 500, MotionThreshold: 0.2}
}

type Snapshot struct {
	Accel      r3.Vec // g
	Gyro       r3.Vec // rad/s, bias removed
	Bias       r3.Vec // rad/s
	Calibrated bool
	Reads      uint64
	ReadErrors uint64
	Restarts   uint64 // calibration windows discarded for motion
	LastError  string
}

// Device is driven from the sample path only; the readouts are safe from
// any goroutine.
type Device struct {
	chip Chip
	cfg  Config

	sum r3.Vec
	n   int

	bias       atomic.Pointer[r3.Vec]
	calibrated atomic.Bool
	last       atomic.Pointer[Snapshot]

	reads    atomic.Uint64
	errs     atomic.Uint64
	restarts atomic.Uint64
	lastErr  atomic.Pointer[string]
}

func New(chip Chip, cfg Config) *Device {
	def := DefaultConfig()
	if cfg.CalibrationSamples <= 0 {
		cfg.CalibrationSamples = def.CalibrationSamples
	}
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	d := &Device{chip: chip, cfg: cfg}
	d.bias.Store(&r3.Vec{})
	return d
}

// ReadSample returns accel in g and gyro in rad/s with the bias removed.
func (d *Device) ReadSample() (accel, gyro r3.Vec, err error) {
	if d == nil || d.chip == nil {
		return r3.Vec{}, r3.Vec{}, fmt.Errorf("imu: device is nil")
	}
	s, err := d.chip.Read()
	if err != nil {
		d.errs.Add(1)
		msg := err.Error()
		d.lastErr.Store(&msg)
		return r3.Vec{}, r3.Vec{}, err
	}
	d.reads.Add(1)
	accel = r3.Vec{X: s.Ax, Y: s.Ay, Z: s.Az}
	gyro = r3.Sub(r3.Scale(degToRad, r3.Vec{X: s.Gx, Y: s.Gy, Z: s.Gz}), *d.bias.Load())
	d.last.Store(&Snapshot{Accel: accel, Gyro: gyro})
	return accel, gyro, nil
}

// Calibrate accumulates one gyro sample (rad/s) into the bias estimate.
// It is a no-op once calibrated.
func (d *Device) Calibrate(gyro r3.Vec) {
	if d.calibrated.Load() {
		return
	}
	lim := d.cfg.MotionThreshold
	if math.Abs(gyro.X) > lim || math.Abs(gyro.Y) > lim || math.Abs(gyro.Z) > lim {
		if d.n > 0 {
			d.restarts.Add(1)
		}
		d.sum, d.n = r3.Vec{}, 0
		return
	}
	d.sum = r3.Add(d.sum, gyro)
	d.n++
	if d.n < d.cfg.CalibrationSamples {
		return
	}
	b := r3.Add(*d.bias.Load(), r3.Scale(1/float64(d.n), d.sum))
	d.bias.Store(&b)
	d.calibrated.Store(true)
}

func (d *Device) Calibrated() bool { return d.calibrated.Load() }

func (d *Device) Bias() r3.Vec { return *d.bias.Load() }

// ConfirmConnection probes the chip identity.
func (d *Device) ConfirmConnection() error {
	if d == nil || d.chip == nil {
		return fmt.Errorf("imu: device is nil")
	}
	if err := d.chip.Probe(); err != nil {
		return fmt.Errorf("imu: connection check failed: %w", err)
	}
	return nil
}

func (d *Device) Snapshot() Snapshot {
	var s Snapshot
	if p := d.last.Load(); p != nil {
		s = *p
	}
	s.Bias = d.Bias()
	s.Calibrated = d.Calibrated()
	s.Reads = d.reads.Load()
	s.ReadErrors = d.errs.Load()
	s.Restarts = d.restarts.Load()
	if p := d.lastErr.Load(); p != nil {
		s.LastError = *p
	}
	return s
}
