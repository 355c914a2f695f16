package vehicle

import "time"

// pid is a per-axis PID on (setpoint - measurement) with a clamped output
// and integral. Not safe for concurrent use.
type pid struct {
	kp, ki, kd float64
	outMin     float64
	outMax     float64
	iMax       float64

	integral  float64
	prevError float64
	havePrev  bool
}

func newPID(g Gains) *pid {
	p := &pid{kp: g.KP, ki: g.KI, kd: g.KD, outMin: -1, outMax: 1, iMax: 1}
	if g.IMax > 0 {
		p.iMax = g.IMax
	}
	return p
}

func (p *pid) SetOutputLimits(min, max float64) {
	p.outMin = min
	p.outMax = max
}

func (p *pid) Reset() {
	p.integral = 0
	p.prevError = 0
	p.havePrev = false
}

func (p *pid) Update(setpoint, measurement float64, dt time.Duration) float64 {
	if dt <= 0 {
		// No time step, no update.
		return 0
	}
	sec := dt.Seconds()
	err := setpoint - measurement
	p.integral = clamp(p.integral+err*sec, -p.iMax, p.iMax)

	derivative := 0.0
	if p.havePrev {
		derivative = (err - p.prevError) / sec
	}
	p.prevError = err
	p.havePrev = true

	return clamp(p.kp*err+p.ki*p.integral+p.kd*derivative, p.outMin, p.outMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
