package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/banshee-data/hypgraph/internal/lidar/debug"
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
	"github.com/banshee-data/hypgraph/internal/timeutil"
)

// maxPacingSleep caps the replay pause between two batches so a gap in a
// recording does not stall the loop.
const maxPacingSleep = 2 * time.Second

// Tracker is the graph surface the runner drives. *l5tracks.NeighborhoodGraph
// satisfies it.
type Tracker interface {
	Update(batch l4perception.Batch, tc l5tracks.TrackingContext) (l5tracks.UpdateResult, error)
	Snapshot() *l5tracks.Snapshot
}

// TrackSink consumes the selected tracks produced by each cycle. Sinks run
// on the update loop and must not block for long.
type TrackSink interface {
	ConsumeTracks(ctx context.Context, frame l5tracks.TrackFrame) error
}

// TrackSinkFunc adapts an ordinary function to the TrackSink interface.
type TrackSinkFunc func(ctx context.Context, frame l5tracks.TrackFrame) error

// ConsumeTracks calls f(ctx, frame).
func (f TrackSinkFunc) ConsumeTracks(ctx context.Context, frame l5tracks.TrackFrame) error {
	return f(ctx, frame)
}

// ContextProvider supplies the tracking context handed to the kinematic
// test for a batch, e.g. ego motion from odometry.
type ContextProvider func(batch l4perception.Batch) l5tracks.TrackingContext

// RunnerConfig holds the dependencies of a Runner.
type RunnerConfig struct {
	Source  l4perception.HypothesisSource
	Tracker Tracker
	Sinks   []TrackSink

	Context ContextProvider // Optional
	Metrics *Metrics        // Optional

	// Debug, when enabled, is framed around every update. Emitted frames
	// are passed to OnDebugFrame.
	Debug        *debug.DebugCollector
	OnDebugFrame func(*debug.DebugFrame)

	// Realtime paces replay by the timestamp gaps between batches.
	Realtime bool
	Clock    timeutil.Clock // Defaults to timeutil.RealClock
}

// RunnerStats counts the batches a Runner has handled.
type RunnerStats struct {
	Batches    uint64 `json:"batches"`
	Stale      uint64 `json:"stale"`
	SinkErrors uint64 `json:"sink_errors"`
	LastFrame  uint64 `json:"last_frame"`
}

// Runner is the single writer of a tracking graph.
type Runner struct {
	cfg RunnerConfig

	mu    sync.Mutex
	stats RunnerStats

	lastBatchNanos int64
	haveLast       bool
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Tracker == nil || isNilInterface(cfg.Tracker) {
		return nil, errors.New("pipeline: tracker is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	sinks := cfg.Sinks[:0:0]
	for _, s := range cfg.Sinks {
		if !isNilInterface(s) {
			sinks = append(sinks, s)
		}
	}
	cfg.Sinks = sinks
	return &Runner{cfg: cfg}, nil
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Stats returns a copy of the runner counters.
func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run reads batches until the source is exhausted or ctx is cancelled.
// It returns nil when the source reports io.EOF.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Source == nil {
		return errors.New("pipeline: no hypothesis source")
	}
	for {
		batch, err := r.cfg.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			diagf("source exhausted after %d batches", r.Stats().Batches)
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("pipeline: read batch: %w", err)
		}

		r.pace(batch.TimestampNanos)
		if _, err := r.Step(ctx, batch); err != nil && !errors.Is(err, l5tracks.ErrStaleBatch) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *Runner) pace(ts int64) {
	if !r.cfg.Realtime {
		return
	}
	if r.haveLast && ts > r.lastBatchNanos {
		d := time.Duration(ts - r.lastBatchNanos)
		if d > maxPacingSleep {
			diagf("replay gap %s capped to %s", d, maxPacingSleep)
			d = maxPacingSleep
		}
		r.cfg.Clock.Sleep(d)
	}
	r.lastBatchNanos = ts
	r.haveLast = true
}

// Step applies one batch and fans the resulting frame out to every sink.
// A stale batch is logged, counted and returned as an error wrapping
// l5tracks.ErrStaleBatch; the graph is unchanged. Sink failures are logged
// and counted but do not fail the step.
func (r *Runner) Step(ctx context.Context, batch l4perception.Batch) (l5tracks.UpdateResult, error) {
	var tc l5tracks.TrackingContext
	if r.cfg.Context != nil {
		tc = r.cfg.Context(batch)
	}

	dc := r.cfg.Debug
	r.mu.Lock()
	nextFrame := r.stats.LastFrame + 1
	r.mu.Unlock()
	if dc != nil {
		dc.BeginFrame(nextFrame)
	}

	start := r.cfg.Clock.Now()
	res, err := r.cfg.Tracker.Update(batch, tc)
	if err != nil {
		if dc != nil {
			dc.Reset()
		}
		if errors.Is(err, l5tracks.ErrStaleBatch) {
			opsf("discarding stale batch t=%d (%d hypotheses): %v", batch.TimestampNanos, len(batch.Hypotheses), err)
			r.cfg.Metrics.stale()
			r.mu.Lock()
			r.stats.Stale++
			r.mu.Unlock()
		}
		return res, err
	}
	r.cfg.Metrics.observe(res, r.cfg.Clock.Since(start).Seconds())

	if dc != nil {
		if frame := dc.Emit(); frame != nil && r.cfg.OnDebugFrame != nil {
			frame.FrameID = res.FrameID
			r.cfg.OnDebugFrame(frame)
		}
	}

	tracks := r.cfg.Tracker.Snapshot().Tracks()
	tracef("frame %d: %d hypotheses, %d tracks", res.FrameID, len(batch.Hypotheses), len(tracks.Tracks))

	sinkErrors := 0
	for _, s := range r.cfg.Sinks {
		if err := s.ConsumeTracks(ctx, tracks); err != nil {
			name := fmt.Sprintf("%T", s)
			opsf("sink %s failed on frame %d: %v", name, res.FrameID, err)
			r.cfg.Metrics.sinkError(name)
			sinkErrors++
		}
	}

	r.mu.Lock()
	r.stats.Batches++
	r.stats.SinkErrors += uint64(sinkErrors)
	r.stats.LastFrame = res.FrameID
	r.mu.Unlock()
	return res, nil
}
