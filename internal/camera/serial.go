package camera

import (
	"context"
	"strings"

	"github.com/banshee-data/fieldpose/internal/serialmux"
)

// SerialSource publishes the frames a coprocessor writes to a serial link,
// one JSON object per line.
type SerialSource struct {
	mux   serialmux.SerialMuxInterface
	slot  *Latest
	id    string
	lines chan string
}

// NewSerialSource subscribes to mux straight away, so lines read before Run
// starts are not lost. The caller runs mux.Monitor separately and must call
// Run to release the subscription.
func NewSerialSource(mux serialmux.SerialMuxInterface, slot *Latest) *SerialSource {
	id, lines := mux.Subscribe()
	return &SerialSource{mux: mux, slot: slot, id: id, lines: lines}
}

// Run consumes lines until ctx is done or the mux closes the subscription.
func (s *SerialSource) Run(ctx context.Context) error {
	defer s.mux.Unsubscribe(s.id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return nil
			}
			s.handleLine(line)
		}
	}
}

func (s *SerialSource) handleLine(line string) {
	switch serialmux.ClassifyLine(line) {
	case serialmux.LineTypeFrame:
		if err := s.slot.PublishPayload([]byte(line)); err != nil {
			logf("dropping serial frame: %v", err)
		}
	case serialmux.LineTypeStatus:
		logf("coprocessor: %s", strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#")))
	}
}
