package l5tracks

import (
	"fmt"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

// TrackingContext is the opaque value passed to Update and handed unchanged
// to the kinematic test, e.g. a motion.EgoMotion.
type TrackingContext = any

// KinematicTest decides whether an object observed as from could plausibly
// have become to. from is always strictly earlier than to.
type KinematicTest interface {
	Feasible(tc TrackingContext, from, to l4perception.BoxModel) (bool, error)
}

// KinematicTestFunc adapts an ordinary function to the KinematicTest interface.
type KinematicTestFunc func(tc TrackingContext, from, to l4perception.BoxModel) (bool, error)

// Feasible calls f(tc, from, to).
func (f KinematicTestFunc) Feasible(tc TrackingContext, from, to l4perception.BoxModel) (bool, error) {
	return f(tc, from, to)
}

// compatible evaluates the compatibility predicate for a candidate
// parent→child pair. Errors and panics from the kinematic test count as
// incompatible so the update always completes.
func (g *NeighborhoodGraph) compatible(tc TrackingContext, parent, child *GraphNode) bool {
	dt := child.TimestampNanos() - parent.TimestampNanos()
	if dt <= 0 || dt > g.cfg.MaxTimestampGap.Nanoseconds() {
		return false
	}

	ok, err := g.feasible(tc, parent.Box, child.Box)
	if err != nil {
		diagf("kinematic test %d→%d failed: %v", parent.ID, child.ID, err)
		ok = false
	}
	if g.debug != nil && g.debug.IsEnabled() {
		g.debug.RecordCompatibility(uint64(parent.ID), uint64(child.ID), float64(dt)/1e9, ok, err)
	}
	tracef("compat %d→%d dt=%.3fs ok=%v", parent.ID, child.ID, float64(dt)/1e9, ok)
	return ok
}

func (g *NeighborhoodGraph) feasible(tc TrackingContext, from, to l4perception.BoxModel) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("kinematic test panicked: %v", r)
		}
	}()
	return g.test.Feasible(tc, from, to)
}
