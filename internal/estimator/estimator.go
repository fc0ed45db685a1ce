// Package estimator fuses the fiducial targets seen in one camera frame into
// a single field-relative robot pose.
//
// Every target on a known tag implies a robot pose through the chain
//
//	fieldToRobot = fieldToTag ∘ inverse(cameraToTag) ∘ inverse(robotToCamera)
//
// and the configured PoseStrategy reduces those candidates to at most one
// estimate. An Estimator is not safe for concurrent use: callers serialise
// Update and every setter, normally by owning it from one control loop.
package estimator

import (
	"github.com/banshee-data/fieldpose/internal/geom"
	"github.com/banshee-data/fieldpose/internal/monitoring"
	"github.com/banshee-data/fieldpose/internal/vision"
)

var logf = monitoring.Subsystem("estimator")

// FieldLayout resolves a tag ID to its field pose. Unknown IDs report ok=false.
type FieldLayout interface {
	Lookup(id int) (pose geom.Pose, ok bool)
}

// Camera supplies the most recent frame result. ok is false when no new frame
// is available; implementations must not block.
type Camera interface {
	LatestResult() (frame vision.FrameResult, ok bool)
}

// EstimatedRobotPose is a fused robot pose and the capture time of the frame
// it was derived from.
type EstimatedRobotPose struct {
	Pose           geom.Pose `json:"pose"`
	TimestampNanos int64     `json:"timestamp_nanos"`
}

// Config holds the construction-time settings of an Estimator. All of them
// can be changed later through setters.
type Config struct {
	Strategy      PoseStrategy
	RobotToCamera geom.Transform
	// Camera is polled by UpdateFromCamera. It may be nil when frames are
	// always passed to Update directly.
	Camera Camera
}

// Estimator is the pose fusion engine.
type Estimator struct {
	layout FieldLayout
	camera Camera

	strategy      PoseStrategy
	robotToCamera geom.Transform
	referencePose geom.Pose
	lastPose      geom.Pose

	cameraHeight    float64
	hasCameraHeight bool
}

// New returns an Estimator over layout.
func New(layout FieldLayout, cfg Config) *Estimator {
	return &Estimator{
		layout:        layout,
		camera:        cfg.Camera,
		strategy:      cfg.Strategy,
		robotToCamera: cfg.RobotToCamera,
	}
}

// FieldLayout returns the layout the estimator resolves tags against.
func (e *Estimator) FieldLayout() FieldLayout { return e.layout }

// Camera returns the camera polled by UpdateFromCamera, or nil.
func (e *Estimator) Camera() Camera { return e.camera }

// Strategy returns the active pose strategy.
func (e *Estimator) Strategy() PoseStrategy { return e.strategy }

// SetStrategy changes the strategy used by the next Update.
func (e *Estimator) SetStrategy(s PoseStrategy) {
	if s != e.strategy {
		logf("pose strategy %s -> %s", e.strategy, s)
	}
	e.strategy = s
}

// RobotToCamera returns the current robot-to-camera mounting transform.
func (e *Estimator) RobotToCamera() geom.Transform { return e.robotToCamera }

// SetRobotToCamera updates the mounting transform, for cameras on turrets or
// pan/tilt mounts.
func (e *Estimator) SetRobotToCamera(t geom.Transform) { e.robotToCamera = t }

// ReferencePose returns the pose used by ClosestToReferencePose.
func (e *Estimator) ReferencePose() geom.Pose { return e.referencePose }

// SetReferencePose stores the prior used by ClosestToReferencePose. The
// estimator never changes it. Until it is set the field origin is used.
func (e *Estimator) SetReferencePose(p geom.Pose) { e.referencePose = p }

// LastPose returns the pose remembered by ClosestToLastPose.
func (e *Estimator) LastPose() geom.Pose { return e.lastPose }

// SetLastPose seeds or overrides the pose remembered by ClosestToLastPose.
func (e *Estimator) SetLastPose(p geom.Pose) { e.lastPose = p }

// CameraHeight returns the expected camera height above the field used by
// ClosestToCameraHeight. Unless SetCameraHeight was called this is the Z of
// the robot-to-camera transform, i.e. the robot origin is taken to sit on the
// field plane.
func (e *Estimator) CameraHeight() float64 {
	if e.hasCameraHeight {
		return e.cameraHeight
	}
	return e.robotToCamera.Translation.Z
}

// SetCameraHeight fixes the expected camera height in metres above the field.
func (e *Estimator) SetCameraHeight(h float64) {
	e.cameraHeight = h
	e.hasCameraHeight = true
}

// ClearCameraHeight reverts CameraHeight to the mounting transform's Z.
func (e *Estimator) ClearCameraHeight() {
	e.cameraHeight = 0
	e.hasCameraHeight = false
}

// Update fuses one frame into a robot pose. ok is false when the frame holds
// no target on a known tag or the strategy finds nothing usable; this is the
// normal outcome for an empty field of view.
func (e *Estimator) Update(frame vision.FrameResult) (est EstimatedRobotPose, ok bool) {
	if !frame.HasTargets() {
		return EstimatedRobotPose{}, false
	}

	var pose geom.Pose
	switch e.strategy {
	case LowestAmbiguity:
		pose, ok = lowestAmbiguity(e.candidates(frame, false))
	case ClosestToCameraHeight:
		pose, ok = closestToCameraHeight(e.candidates(frame, true), e.robotToCamera, e.CameraHeight())
	case ClosestToReferencePose:
		pose, ok = closestToPose(e.candidates(frame, true), e.referencePose)
	case ClosestToLastPose:
		pose, ok = closestToPose(e.candidates(frame, true), e.lastPose)
		if ok {
			e.lastPose = pose
		}
	case AverageBestTargets:
		pose, ok = averageBestTargets(e.candidates(frame, false))
	default:
		logf("unknown pose strategy %s, no estimate", e.strategy)
		return EstimatedRobotPose{}, false
	}
	if !ok {
		return EstimatedRobotPose{}, false
	}

	return EstimatedRobotPose{Pose: pose, TimestampNanos: frame.TimestampNanos}, true
}

// UpdateFromCamera polls the configured camera for its latest frame and runs
// Update on it. ok is false when there is no camera or no new frame.
func (e *Estimator) UpdateFromCamera() (EstimatedRobotPose, bool) {
	if e.camera == nil {
		return EstimatedRobotPose{}, false
	}
	frame, ok := e.camera.LatestResult()
	if !ok {
		return EstimatedRobotPose{}, false
	}
	return e.Update(frame)
}
