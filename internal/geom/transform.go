package geom

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid-body displacement between two frames: a rotation
// followed by a translation expressed in the parent frame.
type Transform struct {
	Translation r3.Vec
	Rotation    Rotation
}

// NewTransform returns a transform from translation components and a rotation.
func NewTransform(x, y, z float64, rot Rotation) Transform {
	return Transform{Translation: r3.Vec{X: x, Y: y, Z: z}, Rotation: rot}
}

// Inverse returns the transform that maps the child frame back to the parent.
func (t Transform) Inverse() Transform {
	inv := t.Rotation.Inverse()
	return Transform{
		Translation: inv.Rotate(r3.Scale(-1, t.Translation)),
		Rotation:    inv,
	}
}

// Compose returns t followed by other, i.e. the frame reached by applying t
// and then other expressed in t's child frame.
func (t Transform) Compose(other Transform) Transform {
	return Transform{
		Translation: r3.Add(t.Translation, t.Rotation.Rotate(other.Translation)),
		Rotation:    other.Rotation.RotateBy(t.Rotation),
	}
}

// ApplyTo maps point p from the child frame into the parent frame.
func (t Transform) ApplyTo(p r3.Vec) r3.Vec {
	return r3.Add(t.Translation, t.Rotation.Rotate(p))
}

func (t Transform) String() string {
	roll, pitch, yaw := t.Rotation.RPY()
	return fmt.Sprintf("T(%.3f, %.3f, %.3f | rpy %.3f, %.3f, %.3f)",
		t.Translation.X, t.Translation.Y, t.Translation.Z, roll, pitch, yaw)
}

// Pose is a position and orientation relative to the field origin. The zero
// value is the field origin with identity orientation.
type Pose struct {
	Translation r3.Vec
	Rotation    Rotation
}

// NewPose returns a pose from translation components and a rotation.
func NewPose(x, y, z float64, rot Rotation) Pose {
	return Pose{Translation: r3.Vec{X: x, Y: y, Z: z}, Rotation: rot}
}

// TransformBy moves the pose by t expressed in the pose's own frame.
func (p Pose) TransformBy(t Transform) Pose {
	return Pose{
		Translation: r3.Add(p.Translation, p.Rotation.Rotate(t.Translation)),
		Rotation:    t.Rotation.RotateBy(p.Rotation),
	}
}

// RelativeTo returns the transform from other to p.
func (p Pose) RelativeTo(other Pose) Transform {
	return other.AsTransform().Inverse().Compose(p.AsTransform())
}

// AsTransform returns the transform from the field origin to the pose.
func (p Pose) AsTransform() Transform {
	return Transform{Translation: p.Translation, Rotation: p.Rotation}
}

// Distance returns the Euclidean distance between the two translations.
func (p Pose) Distance(other Pose) float64 {
	return r3.Norm(r3.Sub(p.Translation, other.Translation))
}

// ApproxEqual reports whether the two poses agree to within posTol metres and
// rotTol radians.
func (p Pose) ApproxEqual(other Pose, posTol, rotTol float64) bool {
	return p.Distance(other) <= posTol && p.Rotation.ApproxEqual(other.Rotation, rotTol)
}

func (p Pose) String() string {
	roll, pitch, yaw := p.Rotation.RPY()
	return fmt.Sprintf("Pose(%.3f, %.3f, %.3f | rpy %.3f, %.3f, %.3f)",
		p.Translation.X, p.Translation.Y, p.Translation.Z, roll, pitch, yaw)
}
