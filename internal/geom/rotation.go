// Package geom provides the rigid-body transform algebra shared by the pose
// estimator and the field layout: 3D rotations stored as unit quaternions,
// rigid transforms, and field-relative poses.
//
// Coordinate convention: field frame is X forward along the field length,
// Y left, Z up, metres. Rotations compose the same way homogeneous matrices
// do: a.RotateBy(b) applies a first, then b.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rotation is a 3D rotation backed by a unit quaternion. The zero value is the
// identity rotation.
type Rotation struct {
	q quat.Number
}

// IdentityRotation returns the rotation that leaves every vector unchanged.
func IdentityRotation() Rotation {
	return Rotation{q: quat.Number{Real: 1}}
}

// NewRotationFromQuaternion builds a rotation from quaternion components,
// normalising to unit length. A zero-length quaternion yields the identity.
func NewRotationFromQuaternion(w, x, y, z float64) Rotation {
	return Rotation{q: normalise(quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z})}
}

// NewRotationFromRPY builds a rotation from extrinsic roll (about X), pitch
// (about Y) and yaw (about Z), in radians, applied in that order.
func NewRotationFromRPY(roll, pitch, yaw float64) Rotation {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return Rotation{q: normalise(quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	})}
}

// NewRotationAxisAngle builds a rotation of angle radians about axis. A zero
// axis yields the identity.
func NewRotationAxisAngle(axis r3.Vec, angle float64) Rotation {
	n := r3.Norm(axis)
	if n == 0 {
		return IdentityRotation()
	}
	axis = r3.Scale(1/n, axis)
	s := math.Sin(angle / 2)
	return Rotation{q: normalise(quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	})}
}

// unit returns the backing quaternion, mapping the zero value to identity.
func (r Rotation) unit() quat.Number {
	if r.q == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return r.q
}

// Quaternion returns the unit quaternion (w, x, y, z) for the rotation.
func (r Rotation) Quaternion() quat.Number {
	return r.unit()
}

// Rotate applies the rotation to v.
func (r Rotation) Rotate(v r3.Vec) r3.Vec {
	q := r.unit()
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// RotateBy returns the rotation equivalent to applying r followed by other.
func (r Rotation) RotateBy(other Rotation) Rotation {
	return Rotation{q: normalise(quat.Mul(other.unit(), r.unit()))}
}

// Inverse returns the rotation that undoes r.
func (r Rotation) Inverse() Rotation {
	return Rotation{q: quat.Conj(r.unit())}
}

// Angle returns the magnitude of the rotation in radians, in [0, π].
func (r Rotation) Angle() float64 {
	q := r.unit()
	v := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	return 2 * math.Atan2(v, math.Abs(q.Real))
}

// RPY returns the extrinsic roll, pitch and yaw angles in radians.
func (r Rotation) RPY() (roll, pitch, yaw float64) {
	q := r.unit()
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

// ApproxEqual reports whether two rotations differ by less than tol radians.
// q and -q describe the same rotation.
func (r Rotation) ApproxEqual(other Rotation, tol float64) bool {
	return r.RotateBy(other.Inverse()).Angle() <= tol
}

func normalise(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
