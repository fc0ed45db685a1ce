package estimator

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fieldpose/internal/geom"
)

// lowestAmbiguity returns the candidate with the smallest ambiguity. Ties keep
// the earliest candidate; candidates without a usable score are ignored.
func lowestAmbiguity(cands []candidate) (geom.Pose, bool) {
	best := -1
	for i, c := range cands {
		if !c.hasAmbiguity() {
			continue
		}
		if best < 0 || c.ambiguity < cands[best].ambiguity {
			best = i
		}
	}
	if best < 0 {
		return geom.Pose{}, false
	}
	return cands[best].fieldToRobot, true
}

// closestToCameraHeight returns the candidate whose implied camera height is
// nearest the expected camera height. The implied height is the Z of the
// camera's field pose, fieldToRobot ∘ robotToCamera.
func closestToCameraHeight(cands []candidate, robotToCamera geom.Transform, cameraHeight float64) (geom.Pose, bool) {
	best := -1
	bestDelta := math.Inf(1)
	for i, c := range cands {
		camZ := c.fieldToRobot.TransformBy(robotToCamera).Translation.Z
		if delta := math.Abs(camZ - cameraHeight); delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	if best < 0 {
		return geom.Pose{}, false
	}
	return cands[best].fieldToRobot, true
}

// closestToPose returns the candidate whose translation is nearest ref.
func closestToPose(cands []candidate, ref geom.Pose) (geom.Pose, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range cands {
		if d := c.fieldToRobot.Distance(ref); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return geom.Pose{}, false
	}
	return cands[best].fieldToRobot, true
}

// averageBestTargets blends candidates with weight 1 - ambiguity. Candidates
// with an unknown ambiguity are left out entirely. A zero total weight yields
// no estimate.
func averageBestTargets(cands []candidate) (geom.Pose, bool) {
	translations := make([]r3.Vec, 0, len(cands))
	rotations := make([]geom.Rotation, 0, len(cands))
	weights := make([]float64, 0, len(cands))
	total := 0.0

	for _, c := range cands {
		if !c.hasAmbiguity() {
			continue
		}
		w := 1 - c.ambiguity
		translations = append(translations, c.fieldToRobot.Translation)
		rotations = append(rotations, c.fieldToRobot.Rotation)
		weights = append(weights, w)
		total += w
	}
	if total <= 0 {
		return geom.Pose{}, false
	}

	rot, ok := geom.WeightedMeanRotation(rotations, weights)
	if !ok {
		return geom.Pose{}, false
	}
	return geom.Pose{
		Translation: geom.WeightedMeanTranslation(translations, weights),
		Rotation:    rot,
	}, true
}
