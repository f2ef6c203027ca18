// Package visualiser streams selected tracks to remote viewers over gRPC.
//
// The Publisher is a pipeline sink: every frame handed to ConsumeTracks is
// queued and fanned out to the connected StreamTracks clients. Slow clients
// lose frames rather than stalling the update loop.
package visualiser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

const (
	frameQueueSize  = 100
	clientQueueSize = 10

	// maxMsgSize allows large frames from busy scenes.
	maxMsgSize = 16 * 1024 * 1024
)

var (
	// ErrQueueFull is returned by ConsumeTracks when the broadcast queue is
	// saturated and the frame was dropped.
	ErrQueueFull = errors.New("visualiser: frame queue full")

	// ErrTooManyClients is returned when MaxClients streams are already open.
	ErrTooManyClients = errors.New("visualiser: too many clients")
)

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients.
	// Zero means unlimited.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 5,
	}
}

// Publisher manages the gRPC server and frame streaming.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan l5tracks.TrackFrame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// clientStream represents a connected streaming client.
type clientStream struct {
	id      string
	opts    StreamOptions
	frameCh chan l5tracks.TrackFrame
	doneCh  chan struct{}
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		config:    cfg,
		frameChan: make(chan l5tracks.TrackFrame, frameQueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves StreamTracks.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	return p.Serve(lis)
}

// Serve starts the gRPC server on an existing listener. It returns once the
// server goroutine is running.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.running.Load() {
		return errors.New("visualiser: publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterTrackService(p.server, NewServer(p))

	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Visualiser] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	log.Printf("[Visualiser] gRPC server stopped")
}

// ConsumeTracks queues a frame for broadcast. A stopped publisher accepts
// and discards frames.
func (p *Publisher) ConsumeTracks(_ context.Context, frame l5tracks.TrackFrame) error {
	if !p.running.Load() {
		return nil
	}

	queueDepth := len(p.frameChan)
	if queueDepth > frameQueueSize/2 {
		log.Printf("[Visualiser] WARNING: Frame queue depth high: %d/%d", queueDepth, frameQueueSize)
	}

	select {
	case p.frameChan <- frame:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count, len(frame.Tracks), queueDepth)
		return nil
	default:
		dropped := p.droppedFrames.Add(1)
		log.Printf("[Visualiser] DROPPED frame %d (total dropped: %d), channel full, tracks=%d",
			frame.FrameID, dropped, len(frame.Tracks))
		return ErrQueueFull
	}
}

// logPeriodicStats logs throughput every 5 seconds.
func (p *Publisher) logPeriodicStats(frameCount uint64, trackCount, queueDepth int) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := time.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}

	elapsed := now.Sub(p.lastStatsTime)
	if elapsed >= 5*time.Second {
		framesInInterval := frameCount - p.lastFrameCount
		fps := float64(framesInInterval) / elapsed.Seconds()
		log.Printf("[Visualiser] Stats: fps=%.1f frames=%d dropped=%d clients=%d queue=%d/%d last_frame: tracks=%d",
			fps, framesInInterval, p.droppedFrames.Load(), p.clientCount.Load(), queueDepth, frameQueueSize, trackCount)
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
	}
}

// broadcastLoop distributes frames to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.frameCh <- frame:
				default:
					// Slow client, drop the frame for it alone.
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a new streaming client.
func (p *Publisher) addClient(opts StreamOptions) (*clientStream, error) {
	client := &clientStream{
		id:      "grpc-" + uuid.NewString(),
		opts:    opts,
		frameCh: make(chan l5tracks.TrackFrame, clientQueueSize),
		doneCh:  make(chan struct{}),
	}

	p.clientsMu.Lock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		p.clientsMu.Unlock()
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyClients, p.config.MaxClients)
	}
	p.clients[client.id] = client
	p.clientsMu.Unlock()

	p.clientCount.Add(1)
	log.Printf("[Visualiser] Client connected: %s (total: %d)", client.id, p.clientCount.Load())
	return client, nil
}

// removeClient unregisters a streaming client.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	client, ok := p.clients[id]
	if ok {
		close(client.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if ok {
		p.clientCount.Add(-1)
		log.Printf("[Visualiser] Client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}
