package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/fieldpose/internal/vision"
)

// ReplayConfig controls PCAP replay.
type ReplayConfig struct {
	// Path is a .pcap or .pcapng capture of coprocessor UDP traffic.
	Path string
	// Port selects datagrams whose source or destination port matches.
	Port int
	// Speed scales the gaps between packets: 1 is real time, 2 twice as
	// fast. Zero or negative replays without pauses.
	Speed float64
}

// ReplayStats summarises one replay.
type ReplayStats struct {
	Packets int // UDP datagrams on the selected port
	Frames  int // datagrams published as frames
	Errors  int // datagrams that failed to parse
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(path string) (packetReader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	var r packetReader
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		r, err = pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(f)
	}
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read PCAP header in %s: %w", path, err)
	}
	return r, f, nil
}

// ReplayPCAP publishes every frame found in a capture into slot, pacing them
// by their capture timestamps. A frame without its own timestamp takes the
// capture time. It returns at end of file or when ctx is done.
func ReplayPCAP(ctx context.Context, cfg ReplayConfig, slot *Latest) (ReplayStats, error) {
	var stats ReplayStats

	r, f, err := openCapture(cfg.Path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	source := gopacket.NewPacketSource(r, r.LinkType())
	logf("replaying %s, udp port %d, speed %.1fx", cfg.Path, cfg.Port, cfg.Speed)

	var last time.Time
	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case packet, ok := <-source.Packets():
			if !ok || packet == nil {
				logf("replay complete: %d packets, %d frames, %d errors in %v",
					stats.Packets, stats.Frames, stats.Errors, time.Since(started))
				return stats, nil
			}

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || (int(udp.DstPort) != cfg.Port && int(udp.SrcPort) != cfg.Port) {
				continue
			}
			if len(udp.Payload) == 0 {
				continue
			}
			stats.Packets++

			captured := packet.Metadata().Timestamp
			if cfg.Speed > 0 && !last.IsZero() {
				if gap := time.Duration(float64(captured.Sub(last)) / cfg.Speed); gap > 0 {
					select {
					case <-ctx.Done():
						return stats, ctx.Err()
					case <-time.After(gap):
					}
				}
			}
			last = captured

			frame, err := vision.ParseFrame(udp.Payload)
			if err != nil {
				stats.Errors++
				slot.parseError()
				logf("replay packet %d: %v", stats.Packets, err)
				continue
			}
			if frame.TimestampNanos == 0 {
				frame.TimestampNanos = captured.UnixNano()
			}
			slot.Publish(frame)
			stats.Frames++
		}
	}
}
