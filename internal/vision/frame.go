// Package vision defines the per-frame records produced by the marker
// detection pipeline and their JSON wire encoding.
package vision

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/fieldpose/internal/geom"
)

// AmbiguityUnknown marks an observation whose solver could not score the
// pose ambiguity (for example a multi-tag solve or a single solution).
const AmbiguityUnknown = -1.0

// ErrEmptyPayload is returned by ParseFrame for blank input.
var ErrEmptyPayload = errors.New("empty frame payload")

// TargetObservation is one detected fiducial marker.
type TargetObservation struct {
	FiducialID int `json:"fiducial_id"`
	// PoseAmbiguity is the ratio of reprojection errors of the best and
	// alternate solutions, in [0, 1], or AmbiguityUnknown.
	PoseAmbiguity      float64         `json:"pose_ambiguity"`
	BestCameraToTarget geom.Transform  `json:"best_camera_to_target"`
	AltCameraToTarget  *geom.Transform `json:"alt_camera_to_target,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. A missing or null
// pose_ambiguity decodes as AmbiguityUnknown.
func (o *TargetObservation) UnmarshalJSON(data []byte) error {
	type plain TargetObservation
	p := plain{PoseAmbiguity: AmbiguityUnknown}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = TargetObservation(p)
	return nil
}

// HasAmbiguity reports whether the ambiguity score is usable.
func (o TargetObservation) HasAmbiguity() bool {
	return o.PoseAmbiguity >= 0 && o.PoseAmbiguity <= 1
}

// FrameResult is everything detected in one captured frame.
type FrameResult struct {
	Targets []TargetObservation `json:"targets"`
	// TimestampNanos is the capture time on the robot's monotonic timebase.
	TimestampNanos int64 `json:"timestamp_nanos"`
}

// HasTargets reports whether any marker was detected.
func (f FrameResult) HasTargets() bool {
	return len(f.Targets) > 0
}

// ParseFrame decodes one frame from its JSON encoding. Ambiguity values
// outside [0, 1] are normalised to AmbiguityUnknown.
func ParseFrame(payload []byte) (FrameResult, error) {
	if len(payload) == 0 {
		return FrameResult{}, ErrEmptyPayload
	}

	var f FrameResult
	if err := json.Unmarshal(payload, &f); err != nil {
		return FrameResult{}, fmt.Errorf("failed to parse frame JSON: %w", err)
	}
	for i := range f.Targets {
		if !f.Targets[i].HasAmbiguity() {
			f.Targets[i].PoseAmbiguity = AmbiguityUnknown
		}
	}
	return f, nil
}
