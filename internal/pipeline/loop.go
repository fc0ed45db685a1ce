// Package pipeline runs the estimator control loop: on every tick it polls the
// camera, and each accepted estimate is recorded and published. The loop owns
// the Estimator; other goroutines reach it only through Do.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/geom"
	"github.com/banshee-data/fieldpose/internal/monitoring"
	"github.com/banshee-data/fieldpose/internal/timeutil"
)

var logf = monitoring.Subsystem("pipeline")

// ErrNotRunning is returned by Do once the loop has stopped.
var ErrNotRunning = errors.New("control loop is not running")

// Recorder stores accepted estimates.
type Recorder interface {
	RecordEstimate(ctx context.Context, runID string, strategy estimator.PoseStrategy, est estimator.EstimatedRobotPose, recorded time.Time) error
}

// Publisher streams accepted estimates. Publish must not block.
type Publisher interface {
	Publish(strategy estimator.PoseStrategy, est estimator.EstimatedRobotPose, at time.Time)
}

// Config wires the loop's collaborators. Recorder and Publisher are optional.
type Config struct {
	Interval  time.Duration
	Clock     timeutil.Clock
	Recorder  Recorder
	RunID     string
	Publisher Publisher
	// History is how many recent estimates Snapshot keeps.
	History int
}

const defaultHistory = 200

// Snapshot is a copy of the loop's state, safe to hand to other goroutines.
type Snapshot struct {
	RunID         string         `json:"run_id,omitempty"`
	Strategy      string         `json:"strategy"`
	RobotToCamera geom.Transform `json:"robot_to_camera"`
	ReferencePose geom.Pose      `json:"reference_pose"`
	LastPose      geom.Pose      `json:"last_pose"`
	CameraHeight  float64        `json:"camera_height_m"`

	Ticks        uint64 `json:"ticks"`
	Estimates    uint64 `json:"estimates"`
	NoEstimate   uint64 `json:"no_estimate"`
	RecordErrors uint64 `json:"record_errors"`

	LastEstimate   *estimator.EstimatedRobotPose  `json:"last_estimate,omitempty"`
	LastEstimateAt time.Time                      `json:"last_estimate_at"`
	Recent         []estimator.EstimatedRobotPose `json:"recent"`
}

// Loop drives one Estimator.
type Loop struct {
	est *estimator.Estimator
	cfg Config

	commands chan command
	done     chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot
}

type command struct {
	fn    func(*estimator.Estimator)
	reply chan struct{}
}

// New returns a loop over est. The loop does nothing until Run.
func New(est *estimator.Estimator, cfg Config) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	l := &Loop{
		est:      est,
		cfg:      cfg,
		commands: make(chan command),
		done:     make(chan struct{}),
	}
	l.snapshot.RunID = cfg.RunID
	l.refresh()
	return l
}

// Run ticks until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	ticker := l.cfg.Clock.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	logf("control loop started: every %v, strategy %s", l.cfg.Interval, l.est.Strategy())

	for {
		select {
		case <-ctx.Done():
			logf("control loop stopped after %d ticks", l.Snapshot().Ticks)
			return ctx.Err()

		case cmd := <-l.commands:
			cmd.fn(l.est)
			l.refresh()
			close(cmd.reply)

		case <-ticker.C():
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	est, ok := l.est.UpdateFromCamera()
	now := l.cfg.Clock.Now()

	var recordErr bool
	if ok {
		if l.cfg.Recorder != nil {
			if err := l.cfg.Recorder.RecordEstimate(ctx, l.cfg.RunID, l.est.Strategy(), est, now); err != nil {
				recordErr = true
				logf("record estimate: %v", err)
			}
		}
		if l.cfg.Publisher != nil {
			l.cfg.Publisher.Publish(l.est.Strategy(), est, now)
		}
	}

	l.mu.Lock()
	l.snapshot.Ticks++
	if ok {
		l.snapshot.Estimates++
		l.snapshot.LastEstimate = &est
		l.snapshot.LastEstimateAt = now
		l.snapshot.Recent = append(l.snapshot.Recent, est)
		if n := len(l.snapshot.Recent); n > l.cfg.History {
			l.snapshot.Recent = append([]estimator.EstimatedRobotPose(nil), l.snapshot.Recent[n-l.cfg.History:]...)
		}
	} else {
		l.snapshot.NoEstimate++
	}
	if recordErr {
		l.snapshot.RecordErrors++
	}
	l.mu.Unlock()

	// ClosestToLastPose moves the last pose on every accepted estimate.
	if ok {
		l.refresh()
	}
}

// refresh copies the estimator settings into the snapshot. Only the loop
// goroutine (or New) calls it.
func (l *Loop) refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot.Strategy = l.est.Strategy().String()
	l.snapshot.RobotToCamera = l.est.RobotToCamera()
	l.snapshot.ReferencePose = l.est.ReferencePose()
	l.snapshot.LastPose = l.est.LastPose()
	l.snapshot.CameraHeight = l.est.CameraHeight()
}

// Do runs fn on the loop goroutine between ticks and waits for it.
func (l *Loop) Do(ctx context.Context, fn func(*estimator.Estimator)) error {
	cmd := command{fn: fn, reply: make(chan struct{})}
	select {
	case l.commands <- cmd:
	case <-l.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetStrategy switches the strategy used from the next tick on.
func (l *Loop) SetStrategy(ctx context.Context, s estimator.PoseStrategy) error {
	return l.Do(ctx, func(e *estimator.Estimator) { e.SetStrategy(s) })
}

// SetReferencePose replaces the prior used by ClosestToReferencePose.
func (l *Loop) SetReferencePose(ctx context.Context, p geom.Pose) error {
	return l.Do(ctx, func(e *estimator.Estimator) { e.SetReferencePose(p) })
}

// SetRobotToCamera replaces the camera mounting transform.
func (l *Loop) SetRobotToCamera(ctx context.Context, t geom.Transform) error {
	return l.Do(ctx, func(e *estimator.Estimator) { e.SetRobotToCamera(t) })
}

// SetLastPose seeds or overrides the pose ClosestToLastPose compares against.
func (l *Loop) SetLastPose(ctx context.Context, p geom.Pose) error {
	return l.Do(ctx, func(e *estimator.Estimator) { e.SetLastPose(p) })
}

// SetCameraHeight fixes the expected camera height. A nil height reverts to
// the mount's Z.
func (l *Loop) SetCameraHeight(ctx context.Context, h *float64) error {
	return l.Do(ctx, func(e *estimator.Estimator) {
		if h == nil {
			e.ClearCameraHeight()
			return
		}
		e.SetCameraHeight(*h)
	})
}

// Snapshot returns a copy of the current state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.snapshot
	s.Recent = append([]estimator.EstimatedRobotPose(nil), l.snapshot.Recent...)
	if s.LastEstimate != nil {
		last := *s.LastEstimate
		s.LastEstimate = &last
	}
	return s
}
