package l5tracks

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

const second = int64(time.Second)

// hyp builds a hypothesis identified by its ClusterID at t seconds.
func hyp(id int64, t int64) l4perception.BoxModel {
	return l4perception.BoxModel{
		ClusterID:      id,
		X:              float64(id),
		Length:         4.5,
		Width:          1.8,
		Height:         1.5,
		Confidence:     0.5,
		TimestampNanos: t * second,
	}
}

func batchAt(t int64, ids ...int64) l4perception.Batch {
	b := l4perception.Batch{TimestampNanos: t * second}
	for _, id := range ids {
		b.Hypotheses = append(b.Hypotheses, hyp(id, t))
	}
	return b
}

// links is a kinematic test that accepts exactly the listed
// (earlier cluster, later cluster) pairs.
type links map[[2]int64]bool

func (l links) Feasible(_ TrackingContext, from, to l4perception.BoxModel) (bool, error) {
	return l[[2]int64{from.ClusterID, to.ClusterID}], nil
}

func testConfig() GraphConfig {
	return GraphConfig{
		MaxComponents:    16,
		MaxTimestampGap:  10 * time.Second,
		AgingWindow:      10 * time.Second,
		RetentionWindow:  0,
		SelectionScoring: ScoringMostRecent,
	}
}

func newTestGraph(t *testing.T, cfg GraphConfig, opts ...Option) *NeighborhoodGraph {
	t.Helper()
	g, err := New(cfg, opts...)
	require.NoError(t, err)
	return g
}

// mustUpdate applies a batch and checks the structural invariants.
func mustUpdate(t *testing.T, g *NeighborhoodGraph, b l4perception.Batch) UpdateResult {
	t.Helper()
	res, err := g.Update(b, nil)
	require.NoError(t, err)
	require.NoError(t, g.CheckInvariants())
	return res
}

// locate finds the component and clique holding the hypothesis with the
// given cluster id.
func locate(t *testing.T, g *NeighborhoodGraph, clusterID int64) (ComponentView, CliqueView, NodeView, bool) {
	t.Helper()
	for _, c := range g.Components() {
		for _, q := range c.Cliques {
			for _, n := range q.Nodes {
				if n.Box.ClusterID == clusterID {
					return c, q, n, true
				}
			}
		}
	}
	return ComponentView{}, CliqueView{}, NodeView{}, false
}

func clusterIDs(q CliqueView) []int64 {
	out := make([]int64, 0, len(q.Nodes))
	for _, n := range q.Nodes {
		out = append(out, n.Box.ClusterID)
	}
	return out
}

type recordingCollector struct {
	compat    int
	rejected  int
	errs      int
	merges    [][2]uuid.UUID
	splits    [][2]uuid.UUID
	evictions []uuid.UUID
	aged      []uint64
	retired   []uint64
}

func (r *recordingCollector) IsEnabled() bool { return true }

func (r *recordingCollector) RecordCompatibility(_, _ uint64, _ float64, ok bool, err error) {
	r.compat++
	if !ok {
		r.rejected++
	}
	if err != nil {
		r.errs++
	}
}

func (r *recordingCollector) RecordMerge(survivor, absorbed uuid.UUID) {
	r.merges = append(r.merges, [2]uuid.UUID{survivor, absorbed})
}

func (r *recordingCollector) RecordSplit(source, created uuid.UUID) {
	r.splits = append(r.splits, [2]uuid.UUID{source, created})
}

func (r *recordingCollector) RecordEviction(id uuid.UUID, _ int) {
	r.evictions = append(r.evictions, id)
}

func (r *recordingCollector) RecordAging(nodeID uint64, _ int64, retention bool) {
	if retention {
		r.retired = append(r.retired, nodeID)
		return
	}
	r.aged = append(r.aged, nodeID)
}
