package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// ErrInvalidTransformMatrix is returned when a 4x4 matrix is not a proper
// rigid transform.
var ErrInvalidTransformMatrix = errors.New("invalid transform matrix (not proper rigid transform)")

// Matrix returns t as a 4x4 row-major homogeneous matrix:
// m00,m01,m02,tx, m10,...
func (t Transform) Matrix() [16]float64 {
	q := t.Rotation.unit()
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return [16]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), t.Translation.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), t.Translation.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), t.Translation.Z,
		0, 0, 0, 1,
	}
}

// TransformFromMatrix converts a 4x4 row-major homogeneous matrix into a
// Transform. The matrix must pass IsValidTransformMatrix.
func TransformFromMatrix(T [16]float64) (Transform, error) {
	if !IsValidTransformMatrix(T) {
		return Transform{}, ErrInvalidTransformMatrix
	}

	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Shepperd's method: pivot on the largest diagonal term for stability.
	var q quat.Number
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (r21 - r12) / s, Jmag: (r02 - r20) / s, Kmag: (r10 - r01) / s}
	case r00 > r11 && r00 > r22:
		s := 2 * math.Sqrt(1+r00-r11-r22)
		q = quat.Number{Real: (r21 - r12) / s, Imag: s / 4, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := 2 * math.Sqrt(1+r11-r00-r22)
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: s / 4, Kmag: (r12 + r21) / s}
	default:
		s := 2 * math.Sqrt(1+r22-r00-r11)
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: s / 4}
	}

	return Transform{
		Translation: r3.Vec{X: T[3], Y: T[7], Z: T[11]},
		Rotation:    Rotation{q: normalise(q)},
	}, nil
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// proper rotation, not reflection
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	// columns must be unit length
	for c := 0; c < 3; c++ {
		n := T[c]*T[c] + T[4+c]*T[4+c] + T[8+c]*T[8+c]
		if math.Abs(n-1.0) > MatrixValidationTolerance {
			return false
		}
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
