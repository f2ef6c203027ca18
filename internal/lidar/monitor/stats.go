package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

// StatsSnapshot represents a snapshot of current statistics
type StatsSnapshot struct {
	FramesPerSec float64   `json:"frames_per_sec"`
	TracksPerSec float64   `json:"tracks_per_sec"`
	LastTracks   int       `json:"last_tracks"`
	LastFrameID  uint64    `json:"last_frame_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// FrameStats counts frames and tracks seen by the monitor. It is a pipeline
// sink.
type FrameStats struct {
	mu             sync.Mutex
	frameCount     int64
	trackCount     int64
	totalFrames    int64
	lastTracks     int
	lastFrameID    uint64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewFrameStats creates a new FrameStats instance
func NewFrameStats() *FrameStats {
	now := time.Now()
	return &FrameStats{
		lastReset: now,
		startTime: now,
	}
}

// ConsumeTracks counts a frame.
func (fs *FrameStats) ConsumeTracks(_ context.Context, frame l5tracks.TrackFrame) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frameCount++
	fs.totalFrames++
	fs.trackCount += int64(len(frame.Tracks))
	fs.lastTracks = len(frame.Tracks)
	fs.lastFrameID = frame.FrameID
	return nil
}

// GetAndReset returns current counters and resets them
func (fs *FrameStats) GetAndReset() (frames int64, tracks int64, duration time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(fs.lastReset)
	frames = fs.frameCount
	tracks = fs.trackCount

	fs.frameCount = 0
	fs.trackCount = 0
	fs.lastReset = now
	return
}

// LogStats logs formatted statistics and stores snapshot for web interface
func (fs *FrameStats) LogStats() {
	frames, tracks, duration := fs.GetAndReset()
	if frames == 0 || duration <= 0 {
		return
	}
	framesPerSec := float64(frames) / duration.Seconds()
	tracksPerSec := float64(tracks) / duration.Seconds()

	fs.mu.Lock()
	fs.latestSnapshot = &StatsSnapshot{
		FramesPerSec: framesPerSec,
		TracksPerSec: tracksPerSec,
		LastTracks:   fs.lastTracks,
		LastFrameID:  fs.lastFrameID,
		Timestamp:    time.Now(),
	}
	total := fs.totalFrames
	fs.mu.Unlock()

	log.Printf("Tracker stats (/sec): %.1f frames, %.1f tracks, %s frames total",
		framesPerSec, tracksPerSec, FormatWithCommas(total))
}

// Run logs statistics every interval until ctx is cancelled.
func (fs *FrameStats) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fs.LogStats()
		}
	}
}

// TotalFrames returns the number of frames seen since creation.
func (fs *FrameStats) TotalFrames() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.totalFrames
}

// GetUptime returns the time since the stats were created
func (fs *FrameStats) GetUptime() time.Duration {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return time.Since(fs.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for web interface
func (fs *FrameStats) GetLatestSnapshot() *StatsSnapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.latestSnapshot == nil {
		return nil
	}
	snapshot := *fs.latestSnapshot
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	pre := len(s) % 3
	if pre > 0 {
		out = append(out, s[:pre]...)
	}
	for i := pre; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
