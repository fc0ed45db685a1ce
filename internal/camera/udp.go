package camera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// maxDatagramSize is the largest UDP payload accepted.
const maxDatagramSize = 64 * 1024

// UDPSource publishes one frame per datagram received on a UDP address.
type UDPSource struct {
	address string
	rcvBuf  int
	slot    *Latest

	mu    sync.Mutex
	conn  *net.UDPConn
	ready chan struct{}
}

// NewUDPSource returns a source that will listen on address, e.g. ":5800".
// rcvBuf sets the socket receive buffer when positive.
func NewUDPSource(address string, rcvBuf int, slot *Latest) *UDPSource {
	return &UDPSource{
		address: address,
		rcvBuf:  rcvBuf,
		slot:    slot,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the socket is bound.
func (u *UDPSource) Ready() <-chan struct{} { return u.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (u *UDPSource) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Run listens until ctx is done. Malformed datagrams are logged and dropped.
func (u *UDPSource) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", u.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if u.rcvBuf > 0 {
		if err := conn.SetReadBuffer(u.rcvBuf); err != nil {
			logf("failed to set UDP receive buffer to %d: %v", u.rcvBuf, err)
		}
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	close(u.ready)
	logf("UDP frame listener on %s", conn.LocalAddr())

	buffer := make([]byte, maxDatagramSize)
	var deadlineErrLogged bool
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// a short deadline lets the loop notice cancellation
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil && !deadlineErrLogged {
			logf("failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logf("UDP read error: %v", err)
			continue
		}

		if err := u.slot.PublishPayload(buffer[:n]); err != nil {
			logf("dropping datagram from %v: %v", from, err)
		}
	}
}
