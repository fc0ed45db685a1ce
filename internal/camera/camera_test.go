package camera

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fieldpose/internal/serialmux"
	"github.com/banshee-data/fieldpose/internal/timeutil"
	"github.com/banshee-data/fieldpose/internal/vision"
)

func framePayload(ts int64, tag int) string {
	return fmt.Sprintf(`{"timestamp_nanos":%d,"targets":[{"fiducial_id":%d,"pose_ambiguity":0.1,`+
		`"best_camera_to_target":{"translation":{"x":2,"y":0,"z":0}}}]}`, ts, tag)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestLatest_EachFrameReturnedOnce(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	slot := NewLatest(clock, 0)

	_, ok := slot.LatestResult()
	assert.False(t, ok, "empty slot")

	slot.Publish(vision.FrameResult{TimestampNanos: 1})
	f, ok := slot.LatestResult()
	require.True(t, ok)
	assert.Equal(t, int64(1), f.TimestampNanos)

	_, ok = slot.LatestResult()
	assert.False(t, ok, "same frame is not returned twice")

	peeked, at, ok := slot.Peek()
	require.True(t, ok)
	assert.Equal(t, int64(1), peeked.TimestampNanos)
	assert.True(t, at.Equal(time.Unix(100, 0)))
}

func TestLatest_NewestWins(t *testing.T) {
	slot := NewLatest(timeutil.NewMockClock(time.Unix(0, 0)), 0)
	slot.Publish(vision.FrameResult{TimestampNanos: 1})
	slot.Publish(vision.FrameResult{TimestampNanos: 2})

	f, ok := slot.LatestResult()
	require.True(t, ok)
	assert.Equal(t, int64(2), f.TimestampNanos)
	assert.Equal(t, Stats{Published: 2, Consumed: 1, Overwritten: 1}, slot.Stats())
}

func TestLatest_MaxAge(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	slot := NewLatest(clock, 100*time.Millisecond)

	slot.Publish(vision.FrameResult{TimestampNanos: 1})
	clock.Advance(100 * time.Millisecond)
	_, ok := slot.LatestResult()
	assert.True(t, ok, "a frame exactly at the limit is still fresh")

	slot.Publish(vision.FrameResult{TimestampNanos: 2})
	clock.Advance(101 * time.Millisecond)
	_, ok = slot.LatestResult()
	assert.False(t, ok, "stale frame is discarded")
	_, ok = slot.LatestResult()
	assert.False(t, ok)

	assert.Equal(t, uint64(1), slot.Stats().Stale)
}

func TestLatest_PublishPayload(t *testing.T) {
	slot := NewLatest(nil, 0)

	require.NoError(t, slot.PublishPayload([]byte(framePayload(42, 3))))
	assert.Error(t, slot.PublishPayload([]byte("{not json")))
	assert.ErrorIs(t, slot.PublishPayload(nil), vision.ErrEmptyPayload)

	f, ok := slot.LatestResult()
	require.True(t, ok, "bad payloads keep the last good frame")
	assert.Equal(t, int64(42), f.TimestampNanos)
	assert.Equal(t, uint64(2), slot.Stats().ParseErrors)
}

func TestSerialSource(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	slot := NewLatest(nil, 0)
	src := NewSerialSource(mux, slot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srcDone := make(chan error, 1)
	go func() { srcDone <- src.Run(ctx) }()
	go mux.Monitor(ctx)

	port.AddReadData([]byte("# pipeline up\n" + "{garbage}\n" + framePayload(7, 1) + "\n"))

	waitFor(t, func() bool { return slot.Stats().Published == 1 })
	f, ok := slot.LatestResult()
	require.True(t, ok)
	assert.Equal(t, int64(7), f.TimestampNanos)
	assert.Equal(t, uint64(1), slot.Stats().ParseErrors)

	require.NoError(t, mux.Close())
	select {
	case err := <-srcDone:
		assert.NoError(t, err, "closed subscription ends the source cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop when the mux closed")
	}
}

func TestUDPSource(t *testing.T) {
	slot := NewLatest(nil, 0)
	src := NewUDPSource("127.0.0.1:0", 1<<16, slot)
	assert.Nil(t, src.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	select {
	case <-src.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("UDP source did not bind")
	}

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not a frame"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(framePayload(99, 2)))
	require.NoError(t, err)

	waitFor(t, func() bool { return slot.Stats().Published == 1 })
	f, ok := slot.LatestResult()
	require.True(t, ok)
	assert.Equal(t, int64(99), f.TimestampNanos)
	assert.Equal(t, 2, f.Targets[0].FiducialID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("UDP source did not stop")
	}
}

func TestUDPSource_BadAddress(t *testing.T) {
	src := NewUDPSource("not-an-address:-1", 0, NewLatest(nil, 0))
	assert.Error(t, src.Run(context.Background()))
}

type capturedPacket struct {
	at      time.Time
	port    int
	payload string
}

func writeCapture(t *testing.T, packets []capturedPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, p := range packets {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{10, 0, 0, 11},
			DstIP:    net.IP{10, 0, 0, 2},
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(p.port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.payload)))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     p.at,
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func TestReplayPCAP(t *testing.T) {
	base := time.Unix(1700000000, 0)
	path := writeCapture(t, []capturedPacket{
		{at: base, port: 5800, payload: framePayload(11, 1)},
		{at: base.Add(10 * time.Millisecond), port: 9999, payload: framePayload(12, 1)},
		{at: base.Add(20 * time.Millisecond), port: 5800, payload: "oops"},
		{at: base.Add(30 * time.Millisecond), port: 5800, payload: `{"targets":[]}`},
	})

	slot := NewLatest(nil, 0)
	stats, err := ReplayPCAP(context.Background(), ReplayConfig{Path: path, Port: 5800}, slot)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Packets: 3, Frames: 2, Errors: 1}, stats)

	f, ok := slot.LatestResult()
	require.True(t, ok)
	assert.Equal(t, base.Add(30*time.Millisecond).UnixNano(), f.TimestampNanos,
		"frames without a timestamp take the capture time")
}

func TestReplayPCAP_Paced(t *testing.T) {
	base := time.Unix(1700000000, 0)
	path := writeCapture(t, []capturedPacket{
		{at: base, port: 5800, payload: framePayload(1, 1)},
		{at: base.Add(200 * time.Millisecond), port: 5800, payload: framePayload(2, 1)},
	})

	start := time.Now()
	stats, err := ReplayPCAP(context.Background(), ReplayConfig{Path: path, Port: 5800, Speed: 2}, NewLatest(nil, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Frames)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestReplayPCAP_Cancelled(t *testing.T) {
	base := time.Unix(1700000000, 0)
	path := writeCapture(t, []capturedPacket{
		{at: base, port: 5800, payload: framePayload(1, 1)},
		{at: base.Add(time.Hour), port: 5800, payload: framePayload(2, 1)},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	stats, err := ReplayPCAP(ctx, ReplayConfig{Path: path, Port: 5800, Speed: 1}, NewLatest(nil, 0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, stats.Frames)
}

func TestReplayPCAP_MissingFile(t *testing.T) {
	_, err := ReplayPCAP(context.Background(), ReplayConfig{Path: "nope.pcap", Port: 1}, NewLatest(nil, 0))
	assert.ErrorContains(t, err, "failed to open PCAP file")
}
