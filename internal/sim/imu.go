// Package sim provides stand-in IMU and RC receiver sources so the flight
// binary runs without hardware.
package sim

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"flightcore/internal/attitude"
	"flightcore/internal/sensors/icm20948"
)

// IMU reports a vehicle resting at a fixed tilt. It satisfies imu.Chip.
type IMU struct {
	mu    sync.Mutex
	accel r3.Vec // g, body frame
	bias  r3.Vec // deg/s
	noise float64
	rng   *rand.Rand
}

type IMUConfig struct {
	RollDeg, PitchDeg float64
	// GyroBiasDPS is a constant gyro offset for calibration to remove.
	GyroBiasDPS r3.Vec
	// Noise is the standard deviation added to every axis; zero is exact.
	Noise float64
	Seed  int64
}

func NewIMU(cfg IMUConfig) *IMU {
	q := attitude.FromEuler(cfg.RollDeg*math.Pi/180, cfg.PitchDeg*math.Pi/180, 0)
	return &IMU{
		// At rest the accelerometer reads reference up seen from the body.
		accel: attitude.Rotate(quat.Conj(q), attitude.Up),
		bias:  cfg.GyroBiasDPS,
		noise: cfg.Noise,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *IMU) Read() (icm20948.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := func() float64 {
		if s.noise == 0 {
			return 0
		}
		return s.rng.NormFloat64() * s.noise
	}
	return icm20948.Sample{
		Ax: s.accel.X + n(),
		Ay: s.accel.Y + n(),
		Az: s.accel.Z + n(),
		Gx: s.bias.X + n(),
		Gy: s.bias.Y + n(),
		Gz: s.bias.Z + n(),
	}, nil
}

func (s *IMU) Probe() error { return nil }
