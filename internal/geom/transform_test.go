package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const eps = 1e-9

func assertVec(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, eps, "X")
	assert.InDelta(t, want.Y, got.Y, eps, "Y")
	assert.InDelta(t, want.Z, got.Z, eps, "Z")
}

func TestRotation_ZeroValueIsIdentity(t *testing.T) {
	var r Rotation
	v := r3.Vec{X: 1, Y: 2, Z: 3}
	assertVec(t, v, r.Rotate(v))
	assert.InDelta(t, 0, r.Angle(), eps)
	assert.True(t, r.ApproxEqual(IdentityRotation(), eps))
}

func TestRotation_YawRotatesXIntoY(t *testing.T) {
	r := NewRotationFromRPY(0, 0, math.Pi/2)
	assertVec(t, r3.Vec{Y: 1}, r.Rotate(r3.Vec{X: 1}))
}

func TestRotation_RPYRoundTrip(t *testing.T) {
	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"identity", 0, 0, 0},
		{"yaw only", 0, 0, 1.2},
		{"mixed", 0.3, -0.4, 2.5},
		{"negative yaw", -0.1, 0.2, -2.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRotationFromRPY(tc.roll, tc.pitch, tc.yaw)
			roll, pitch, yaw := r.RPY()
			assert.InDelta(t, tc.roll, roll, 1e-9)
			assert.InDelta(t, tc.pitch, pitch, 1e-9)
			assert.InDelta(t, tc.yaw, yaw, 1e-9)
		})
	}
}

func TestRotation_RotateByOrder(t *testing.T) {
	// roll 90° then yaw 90°: Y goes to Z under the roll, Z is unchanged by the yaw
	roll := NewRotationFromRPY(math.Pi/2, 0, 0)
	yaw := NewRotationFromRPY(0, 0, math.Pi/2)
	combined := roll.RotateBy(yaw)

	assertVec(t, r3.Vec{Z: 1}, combined.Rotate(r3.Vec{Y: 1}))
	assert.True(t, combined.ApproxEqual(NewRotationFromRPY(math.Pi/2, 0, math.Pi/2), 1e-9))
}

func TestRotation_NegatedQuaternionIsSameRotation(t *testing.T) {
	a := NewRotationFromQuaternion(0.5, 0.5, 0.5, 0.5)
	b := NewRotationFromQuaternion(-0.5, -0.5, -0.5, -0.5)
	assert.True(t, a.ApproxEqual(b, 1e-9))
}

func TestRotation_AxisAngle(t *testing.T) {
	r := NewRotationAxisAngle(r3.Vec{Z: 2}, math.Pi)
	assert.InDelta(t, math.Pi, r.Angle(), 1e-9)
	assertVec(t, r3.Vec{X: -1}, r.Rotate(r3.Vec{X: 1}))

	assert.True(t, NewRotationAxisAngle(r3.Vec{}, 1).ApproxEqual(IdentityRotation(), eps))
}

func TestTransform_InverseComposesToIdentity(t *testing.T) {
	tr := NewTransform(1, -2, 0.5, NewRotationFromRPY(0.2, -0.3, 1.1))
	id := tr.Compose(tr.Inverse())

	assertVec(t, r3.Vec{}, id.Translation)
	assert.True(t, id.Rotation.ApproxEqual(IdentityRotation(), 1e-9))

	id = tr.Inverse().Compose(tr)
	assertVec(t, r3.Vec{}, id.Translation)
	assert.True(t, id.Rotation.ApproxEqual(IdentityRotation(), 1e-9))
}

func TestTransform_ComposeIsAssociative(t *testing.T) {
	a := NewTransform(1, 0, 0, NewRotationFromRPY(0, 0, math.Pi/2))
	b := NewTransform(0, 2, 0.3, NewRotationFromRPY(0.1, 0, 0))
	c := NewTransform(-1, 0.5, 0, NewRotationFromRPY(0, 0.4, -0.2))

	left := a.Compose(b).Compose(c)
	right := a.Compose(b.Compose(c))
	assertVec(t, left.Translation, right.Translation)
	assert.True(t, left.Rotation.ApproxEqual(right.Rotation, 1e-9))
}

func TestPose_TransformBy(t *testing.T) {
	// facing +Y, moving 1m forward in the pose frame lands at +Y
	p := NewPose(2, 3, 0, NewRotationFromRPY(0, 0, math.Pi/2))
	moved := p.TransformBy(NewTransform(1, 0, 0, IdentityRotation()))
	assertVec(t, r3.Vec{X: 2, Y: 4}, moved.Translation)
	assert.True(t, moved.Rotation.ApproxEqual(p.Rotation, 1e-9))
}

func TestPose_RelativeToInvertsTransformBy(t *testing.T) {
	base := NewPose(1, 1, 0, NewRotationFromRPY(0, 0, 0.7))
	tr := NewTransform(0.5, -0.25, 0.1, NewRotationFromRPY(0, 0.1, 0.3))
	got := base.TransformBy(tr).RelativeTo(base)

	assertVec(t, tr.Translation, got.Translation)
	assert.True(t, got.Rotation.ApproxEqual(tr.Rotation, 1e-9))
}

func TestPose_Distance(t *testing.T) {
	a := NewPose(0, 0, 0, IdentityRotation())
	b := NewPose(3, 4, 0, NewRotationFromRPY(0, 0, 1))
	assert.InDelta(t, 5.0, a.Distance(b), eps)
}

func TestMatrix_RoundTrip(t *testing.T) {
	tr := NewTransform(1.5, -0.2, 0.75, NewRotationFromRPY(0.4, -1.1, 2.9))
	m := tr.Matrix()
	require.True(t, IsValidTransformMatrix(m))

	back, err := TransformFromMatrix(m)
	require.NoError(t, err)
	assertVec(t, tr.Translation, back.Translation)
	assert.True(t, back.Rotation.ApproxEqual(tr.Rotation, 1e-9))

	// Row-major: the first column is where the x axis goes.
	want := tr.Rotation.Rotate(r3.Vec{X: 1})
	assertVec(t, want, r3.Vec{X: m[0], Y: m[4], Z: m[8]})
}

func TestMatrix_RejectsInvalid(t *testing.T) {
	reflection := [16]float64{
		-1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	assert.False(t, IsValidTransformMatrix(reflection))

	badRow := NewTransform(0, 0, 0, IdentityRotation()).Matrix()
	badRow[12] = 1
	assert.False(t, IsValidTransformMatrix(badRow))

	_, err := TransformFromMatrix(reflection)
	assert.ErrorIs(t, err, ErrInvalidTransformMatrix)
}
