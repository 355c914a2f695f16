// Package attitude fuses gyroscope and accelerometer samples into a unit
// quaternion orientation with a complementary filter.
//
// The orientation maps body-frame vectors into the reference frame. At rest
// the accelerometer reads the reaction to gravity, so a level vehicle
// measures (0,0,+1) in units of g.
package attitude

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Up is the reference-frame direction the accelerometer reads at rest.
var Up = r3.Vec{Z: 1}

type Config struct {
	// CorrectionGain is the proportional gain (rad/s per unit error) of the
	// accelerometer correction.
	CorrectionGain float64
	// ExpectedGravity is the accelerometer magnitude at rest, in sample units.
	ExpectedGravity float64
	// GravityTolerance is the accepted relative deviation from
	// ExpectedGravity when leveling.
	GravityTolerance float64
	// MinDeltaTime bounds the integration step from below, in seconds.
	MinDeltaTime float64
	// FrameOffset rotates sensor-frame samples into the body frame.
	// The zero value means no offset.
	FrameOffset quat.Number
}

// Estimator owns the estimator state. It is not safe for concurrent use:
// a single sample path writes it.
type Estimator struct {
	cfg   Config
	clock Clock

	attitude    quat.Number
	elapsedTime float64
	deltaTime   float64
	initialized bool
	gyro        r3.Vec
	accel       r3.Vec
	haveTime    bool
}

func New(clock Clock, cfg Config) *Estimator {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	if cfg.CorrectionGain <= 0 {
		cfg.CorrectionGain = 1.0
	}
	if cfg.ExpectedGravity <= 0 {
		cfg.ExpectedGravity = 1.0
	}
	if cfg.GravityTolerance <= 0 {
		cfg.GravityTolerance = 0.15
	}
	if cfg.MinDeltaTime <= 0 {
		cfg.MinDeltaTime = 1e-4
	}
	if cfg.FrameOffset == (quat.Number{}) {
		cfg.FrameOffset = identity
	}
	cfg.FrameOffset = normalize(cfg.FrameOffset)
	return &Estimator{cfg: cfg, clock: clock, attitude: identity}
}

func (e *Estimator) SetGyro(v r3.Vec)  { e.gyro = v }
func (e *Estimator) SetAccel(v r3.Vec) { e.accel = v }
func (e *Estimator) Gyro() r3.Vec      { return e.gyro }
func (e *Estimator) Accel() r3.Vec     { return e.accel }

// Attitude returns the current orientation. It is the identity until
// Initialized reports true.
func (e *Estimator) Attitude() quat.Number { return e.attitude }

func (e *Estimator) Initialized() bool { return e.initialized }

// SetInitialized forces the initialized flag. Callers own the validity of
// the orientation when they set it without a successful leveling.
func (e *Estimator) SetInitialized(v bool) { e.initialized = v }

// ElapsedTime is the clock reading at the last Update, in seconds.
func (e *Estimator) ElapsedTime() float64 { return e.elapsedTime }

// DeltaTime is the integration step used by the last Update, in seconds.
func (e *Estimator) DeltaTime() float64 { return e.deltaTime }

// Update advances time and either levels (first accepted sample) or
// integrates and corrects the orientation.
func (e *Estimator) Update() {
	e.updateTime()

	gyro := Rotate(e.cfg.FrameOffset, e.gyro)
	accel := Rotate(e.cfg.FrameOffset, e.accel)

	if !e.initialized {
		e.initialized = e.initialize(accel)
		return
	}

	e.attitude = normalize(quat.Mul(e.attitude, increment(gyro, e.deltaTime)))

	if r3.Norm2(accel) == 0 {
		return
	}
	predicted := Rotate(quat.Conj(e.attitude), Up)
	torque := r3.Cross(r3.Unit(accel), predicted)
	correction := r3.Scale(e.cfg.CorrectionGain, torque)
	e.attitude = normalize(quat.Mul(e.attitude, increment(correction, e.deltaTime)))
}

func (e *Estimator) updateTime() {
	now := e.clock.Elapsed().Seconds()
	dt := now - e.elapsedTime
	if !e.haveTime {
		dt = 0
		e.haveTime = true
	}
	if dt < e.cfg.MinDeltaTime || math.IsNaN(dt) {
		dt = e.cfg.MinDeltaTime
	}
	e.elapsedTime = now
	e.deltaTime = dt
}

// initialize levels the orientation from a gravity reading. It reports
// false, leaving the orientation untouched, when the magnitude is not
// plausible.
func (e *Estimator) initialize(accel r3.Vec) bool {
	g := r3.Norm(accel)
	if math.Abs(g-e.cfg.ExpectedGravity) > e.cfg.GravityTolerance*e.cfg.ExpectedGravity {
		return false
	}
	e.attitude = shortestArc(accel, Up)
	return true
}
