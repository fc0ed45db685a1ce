package estimator

import (
	"github.com/banshee-data/fieldpose/internal/geom"
	"github.com/banshee-data/fieldpose/internal/vision"
)

// candidate is one field-relative robot pose implied by one target solution.
type candidate struct {
	fieldToRobot geom.Pose
	ambiguity    float64
	tagID        int
	alternate    bool
}

func (c candidate) hasAmbiguity() bool {
	return c.ambiguity >= 0 && c.ambiguity <= 1
}

// robotPose chains fieldToTag ∘ inverse(cameraToTag) ∘ inverse(robotToCamera).
func robotPose(fieldToTag geom.Pose, cameraToTag, robotToCamera geom.Transform) geom.Pose {
	return fieldToTag.
		TransformBy(cameraToTag.Inverse()).
		TransformBy(robotToCamera.Inverse())
}

// candidates maps every target whose tag is in the layout to a robot pose.
// Targets on unknown tags are skipped. With alternates set, targets that
// carry a second solution contribute a second candidate right after the first.
func (e *Estimator) candidates(frame vision.FrameResult, alternates bool) []candidate {
	n := len(frame.Targets)
	if alternates {
		n *= 2
	}
	out := make([]candidate, 0, n)

	for _, t := range frame.Targets {
		fieldToTag, ok := e.layout.Lookup(t.FiducialID)
		if !ok {
			continue
		}
		out = append(out, candidate{
			fieldToRobot: robotPose(fieldToTag, t.BestCameraToTarget, e.robotToCamera),
			ambiguity:    t.PoseAmbiguity,
			tagID:        t.FiducialID,
		})
		if alternates && t.AltCameraToTarget != nil {
			out = append(out, candidate{
				fieldToRobot: robotPose(fieldToTag, *t.AltCameraToTarget, e.robotToCamera),
				ambiguity:    t.PoseAmbiguity,
				tagID:        t.FiducialID,
				alternate:    true,
			})
		}
	}
	return out
}
