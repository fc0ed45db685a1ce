// Package posestream streams fused pose estimates to gRPC clients as they
// are produced. The wire messages are google.protobuf.Struct so clients need
// no generated code.
package posestream

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/monitoring"
)

var logf = monitoring.Subsystem("stream")

// Config holds configuration for the estimate stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":50051")
	ListenAddr string

	// MaxClients caps concurrent streaming clients. Zero means no cap.
	MaxClients int

	// ClientBuffer is the per-client queue length. Estimates for a client
	// whose queue is full are dropped.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":50051",
		MaxClients:   8,
		ClientBuffer: 32,
	}
}

// Update is one published estimate.
type Update struct {
	Sequence uint64
	Strategy estimator.PoseStrategy
	Estimate estimator.EstimatedRobotPose
	// Published is the host time the estimate left the control loop.
	Published time.Time
}

// Publisher owns the gRPC server and fans estimates out to its clients.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	updates   chan Update
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	sequence      atomic.Uint64
	clientCount   atomic.Int32
	droppedQueue  atomic.Uint64
	droppedClient atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id       string
	strategy string // empty streams every strategy
	ch       chan Update
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Published     uint64 `json:"published"`
	Clients       int32  `json:"clients"`
	DroppedQueue  uint64 `json:"dropped_queue"`
	DroppedClient uint64 `json:"dropped_client"`
	Running       bool   `json:"running"`
}

// NewPublisher creates a publisher. Nothing listens until Start or Serve.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		updates: make(chan Update, 64),
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the stream service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterPoseStreamServer(p.server, &server{publisher: p})

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	// Streams only end when their clients go away or the server stops, so
	// GracefulStop alone could wait forever.
	p.server.Stop()
	p.listener.Close()
	p.wg.Wait()
	logf("gRPC server stopped")
}

// Publish queues an estimate for every client. It never blocks: when the
// queue is full the estimate is dropped.
func (p *Publisher) Publish(strategy estimator.PoseStrategy, est estimator.EstimatedRobotPose, at time.Time) {
	if !p.running.Load() {
		return
	}
	u := Update{
		Sequence:  p.sequence.Add(1),
		Strategy:  strategy,
		Estimate:  est,
		Published: at,
	}
	select {
	case p.updates <- u:
	default:
		p.droppedQueue.Add(1)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case u := <-p.updates:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if c.strategy != "" && c.strategy != u.Strategy.String() {
					continue
				}
				select {
				case c.ch <- u:
				default:
					p.droppedClient.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(strategy string) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, errTooManyClients
	}
	c := &clientStream{
		id:       fmt.Sprintf("client-%d", p.nextID.Add(1)),
		strategy: strategy,
		ch:       make(chan Update, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	logf("client connected: %s (strategy filter %q)", c.id, strategy)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		p.clientCount.Add(-1)
		logf("client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
	}
}

// Stats returns current publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:     p.sequence.Load(),
		Clients:       p.clientCount.Load(),
		DroppedQueue:  p.droppedQueue.Load(),
		DroppedClient: p.droppedClient.Load(),
		Running:       p.running.Load(),
	}
}
