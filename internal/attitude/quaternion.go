package attitude

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var identity = quat.Number{Real: 1}

// Identity returns the zero-rotation orientation.
func Identity() quat.Number { return identity }

// Rotate applies orientation q to v (q ⊗ v ⊗ q*).
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, pure(v)), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// FromAxisAngle builds the rotation of angle radians about axis. A zero axis
// yields the identity.
func FromAxisAngle(axis r3.Vec, angle float64) quat.Number {
	n := r3.Norm(axis)
	if n == 0 {
		return identity
	}
	s := math.Sin(angle/2) / n
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// FromEuler composes yaw (Z), pitch (Y) and roll (X) rotations, in radians.
func FromEuler(roll, pitch, yaw float64) quat.Number {
	qz := FromAxisAngle(r3.Vec{Z: 1}, yaw)
	qy := FromAxisAngle(r3.Vec{Y: 1}, pitch)
	qx := FromAxisAngle(r3.Vec{X: 1}, roll)
	return quat.Mul(quat.Mul(qz, qy), qx)
}

// Norm returns the quaternion magnitude.
func Norm(q quat.Number) float64 {
	return quat.Abs(q)
}

func pure(v r3.Vec) quat.Number {
	return quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
}

// normalize returns q scaled to unit norm, or identity when q is degenerate.
func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return identity
	}
	return quat.Scale(1/n, q)
}

// increment is exp(½·rate·dt): the rotation accumulated by a constant body
// rate over dt.
func increment(rate r3.Vec, dt float64) quat.Number {
	theta := r3.Norm(rate) * dt
	if theta == 0 {
		return identity
	}
	return FromAxisAngle(rate, theta)
}

// shortestArc returns the unit rotation taking direction from onto to.
func shortestArc(from, to r3.Vec) quat.Number {
	u := r3.Unit(from)
	v := r3.Unit(to)
	d := r3.Dot(u, v)
	if d < -1+1e-9 {
		// Antiparallel: half turn about any axis perpendicular to u.
		axis := r3.Cross(u, r3.Vec{X: 1})
		if r3.Norm2(axis) < 1e-12 {
			axis = r3.Cross(u, r3.Vec{Y: 1})
		}
		return FromAxisAngle(axis, math.Pi)
	}
	c := r3.Cross(u, v)
	return normalize(quat.Number{Real: 1 + d, Imag: c.X, Jmag: c.Y, Kmag: c.Z})
}
