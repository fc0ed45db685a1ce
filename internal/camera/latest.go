// Package camera turns coprocessor output into the single "latest frame"
// view the estimator polls. Sources (serial, UDP, PCAP replay) parse frames
// and Publish them into a Latest slot.
package camera

import (
	"sync"
	"time"

	"github.com/banshee-data/fieldpose/internal/monitoring"
	"github.com/banshee-data/fieldpose/internal/timeutil"
	"github.com/banshee-data/fieldpose/internal/vision"
)

var logf = monitoring.Subsystem("camera")

// Stats counts what passed through a Latest slot.
type Stats struct {
	Published   uint64 `json:"published"`
	Consumed    uint64 `json:"consumed"`
	Overwritten uint64 `json:"overwritten"` // published before the previous frame was read
	Stale       uint64 `json:"stale"`       // expired before being read
	ParseErrors uint64 `json:"parse_errors"`
}

// Latest holds the most recent frame. Each frame is handed out by
// LatestResult at most once, and frames that have waited longer than the
// maximum age are discarded instead. Latest is safe for concurrent use.
type Latest struct {
	clock  timeutil.Clock
	maxAge time.Duration

	mu       sync.Mutex
	frame    vision.FrameResult
	received time.Time
	pending  bool
	seen     bool
	stats    Stats
}

// NewLatest returns an empty slot. A maxAge of zero disables expiry.
func NewLatest(clock timeutil.Clock, maxAge time.Duration) *Latest {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Latest{clock: clock, maxAge: maxAge}
}

// Publish replaces the held frame.
func (l *Latest) Publish(frame vision.FrameResult) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending {
		l.stats.Overwritten++
	}
	l.frame = frame
	l.received = now
	l.pending = true
	l.seen = true
	l.stats.Published++
}

// LatestResult returns the held frame if it has not been returned before and
// is not older than the maximum age. It never blocks.
func (l *Latest) LatestResult() (vision.FrameResult, bool) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return vision.FrameResult{}, false
	}
	l.pending = false
	if l.maxAge > 0 && now.Sub(l.received) > l.maxAge {
		l.stats.Stale++
		return vision.FrameResult{}, false
	}
	l.stats.Consumed++
	return l.frame, true
}

// Peek returns the most recently published frame and when it arrived without
// consuming it. ok is false before the first Publish.
func (l *Latest) Peek() (frame vision.FrameResult, received time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.received, l.seen
}

// Stats returns a snapshot of the slot's counters.
func (l *Latest) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Latest) parseError() {
	l.mu.Lock()
	l.stats.ParseErrors++
	l.mu.Unlock()
}

// PublishPayload parses one frame payload and publishes it. Unparseable
// payloads are counted and returned as errors; the held frame is kept.
func (l *Latest) PublishPayload(payload []byte) error {
	frame, err := vision.ParseFrame(payload)
	if err != nil {
		l.parseError()
		return err
	}
	l.Publish(frame)
	return nil
}
