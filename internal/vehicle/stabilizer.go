package vehicle

import (
	"time"

	"flightcore/internal/actuator"
	"flightcore/internal/control"
)

type Gains struct {
	KP, KI, KD float64
	// IMax bounds the integral term's accumulator. Zero means 1.
	IMax float64
}

type StabilizerConfig struct {
	Roll, Pitch, Yaw Gains
	// MaxAngle (rad) is the roll/pitch target at full stick.
	MaxAngle float64
	// MaxYawRate (rad/s) is the yaw-rate target at full stick.
	MaxYawRate float64
	// IdleThrottle: below it the motors stay stopped and integrators reset.
	IdleThrottle float64
}

func DefaultStabilizerConfig() StabilizerConfig {
	return StabilizerConfig{
		Roll:         Gains{KP: 0.6, KI: 0.1, KD: 0.02},
		Pitch:        Gains{KP: 0.6, KI: 0.1, KD: 0.02},
		Yaw:          Gains{KP: 0.3, KI: 0.05},
		MaxAngle:     0.5,
		MaxYawRate:   3.0,
		IdleThrottle: 0.05,
	}
}

// Clock is a monotonic time source.
type Clock interface {
	Elapsed() time.Duration
}

// Quad-X motor order: front-right, rear-left, front-left, rear-right.
// Columns are roll, pitch and yaw factors.
var quadX = [4][3]float64{
	{-1, +1, +1},
	{+1, -1, +1},
	{+1, +1, -1},
	{-1, -1, -1},
}

// Stabilizer is an angle-mode controller: roll/pitch sticks command an
// attitude, the yaw stick a rate. Output is zero unless the vehicle is armed.
// While the RC frame is lost the attitude targets level out and throttle is
// held. Not safe for concurrent use; it runs on the sample path.
type Stabilizer struct {
	cfg     StabilizerConfig
	vehicle *Vehicle
	clock   Clock

	roll, pitch, yaw *pid
	last             time.Duration
	haveLast         bool
}

func NewStabilizer(cfg StabilizerConfig, v *Vehicle, clock Clock) *Stabilizer {
	def := DefaultStabilizerConfig()
	if cfg.MaxAngle <= 0 {
		cfg.MaxAngle = def.MaxAngle
	}
	if cfg.MaxYawRate <= 0 {
		cfg.MaxYawRate = def.MaxYawRate
	}
	if cfg.IdleThrottle <= 0 {
		cfg.IdleThrottle = def.IdleThrottle
	}
	if cfg.Roll == (Gains{}) {
		cfg.Roll = def.Roll
	}
	if cfg.Pitch == (Gains{}) {
		cfg.Pitch = def.Pitch
	}
	if cfg.Yaw == (Gains{}) {
		cfg.Yaw = def.Yaw
	}
	return &Stabilizer{
		cfg:     cfg,
		vehicle: v,
		clock:   clock,
		roll:    newPID(cfg.Roll),
		pitch:   newPID(cfg.Pitch),
		yaw:     newPID(cfg.Yaw),
	}
}

func (s *Stabilizer) Compute(in control.Input) actuator.Command {
	now := s.clock.Elapsed()
	dt := time.Duration(0)
	if s.haveLast {
		dt = now - s.last
	}
	s.last, s.haveLast = now, true

	cmd := in.Command
	if s.vehicle == nil || !s.vehicle.Armed() || cmd.Throttle < s.cfg.IdleThrottle {
		s.reset()
		return actuator.Zero(len(quadX))
	}

	var rollSP, pitchSP float64
	if !s.vehicle.FrameLost() {
		rollSP = cmd.Roll * s.cfg.MaxAngle
		pitchSP = cmd.Pitch * s.cfg.MaxAngle
	}
	yawSP := cmd.YawRate * s.cfg.MaxYawRate

	axes := [3]float64{
		s.roll.Update(rollSP, in.Roll, dt),
		s.pitch.Update(pitchSP, in.Pitch, dt),
		s.yaw.Update(yawSP, in.YawRate, dt),
	}
	out := make(actuator.Command, len(quadX))
	for i, f := range quadX {
		v := cmd.Throttle
		for a := range axes {
			v += f[a] * axes[a]
		}
		out[i] = clamp(v, 0, 1)
	}
	return out
}

func (s *Stabilizer) reset() {
	s.roll.Reset()
	s.pitch.Reset()
	s.yaw.Reset()
}
