package monitor

import (
	"context"
	"sync"

	"github.com/banshee-data/hypgraph/internal/lidar/debug"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

// FrameSummary is the per-frame aggregate shown on the component chart.
type FrameSummary struct {
	FrameID        uint64 `json:"frame_id"`
	TimestampNanos int64  `json:"timestamp_nanos"`
	Tracks         int    `json:"tracks"`
	Nodes          int    `json:"nodes"`
	MaxCliques     int    `json:"max_cliques"`
}

// TrackRecorder keeps the most recent frames in memory for the charts and
// the trail plot. It is a pipeline sink and a debug frame hook.
type TrackRecorder struct {
	mu       sync.RWMutex
	capacity int
	frames   []l5tracks.TrackFrame // ring buffer
	next     int
	full     bool

	lastDebug *debug.DebugFrame
}

// NewTrackRecorder keeps up to capacity frames.
func NewTrackRecorder(capacity int) *TrackRecorder {
	if capacity <= 0 {
		capacity = 1
	}
	return &TrackRecorder{
		capacity: capacity,
		frames:   make([]l5tracks.TrackFrame, capacity),
	}
}

// ConsumeTracks records a frame, overwriting the oldest when full.
func (r *TrackRecorder) ConsumeTracks(_ context.Context, frame l5tracks.TrackFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[r.next] = frame
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// RecordDebugFrame keeps the latest emitted debug frame.
func (r *TrackRecorder) RecordDebugFrame(f *debug.DebugFrame) {
	r.mu.Lock()
	r.lastDebug = f
	r.mu.Unlock()
}

// LastDebugFrame returns the latest debug frame, or nil.
func (r *TrackRecorder) LastDebugFrame() *debug.DebugFrame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastDebug
}

// Frames returns the recorded frames, oldest first.
func (r *TrackRecorder) Frames() []l5tracks.TrackFrame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		out := make([]l5tracks.TrackFrame, r.next)
		copy(out, r.frames[:r.next])
		return out
	}
	out := make([]l5tracks.TrackFrame, 0, r.capacity)
	out = append(out, r.frames[r.next:]...)
	out = append(out, r.frames[:r.next]...)
	return out
}

// Summaries aggregates the recorded frames, oldest first.
func (r *TrackRecorder) Summaries() []FrameSummary {
	frames := r.Frames()
	out := make([]FrameSummary, 0, len(frames))
	for _, f := range frames {
		s := FrameSummary{FrameID: f.FrameID, TimestampNanos: f.TimestampNanos, Tracks: len(f.Tracks)}
		for _, t := range f.Tracks {
			s.Nodes += t.NodeCount
			if t.CliqueCount > s.MaxCliques {
				s.MaxCliques = t.CliqueCount
			}
		}
		out = append(out, s)
	}
	return out
}
