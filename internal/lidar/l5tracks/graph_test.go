package l5tracks

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hypgraph/internal/config"
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

func TestSingleHypothesis(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig(), WithKinematicTest(links{}))
	res := mustUpdate(t, g, batchAt(0, 1))

	assert.Equal(t, 1, res.NodesCreated)
	assert.Equal(t, 1, res.Orphans)
	require.Equal(t, 1, g.Len())

	c, err := g.Component(0)
	require.NoError(t, err)
	require.Len(t, c.Cliques, 1)
	assert.Equal(t, 1, c.NodeCount())

	sel, ok := c.Cliques[0].Selected()
	require.True(t, ok)
	assert.Equal(t, int64(1), sel.Box.ClusterID)
}

func TestContinuationJoinsClique(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 2}: true}))
	mustUpdate(t, g, batchAt(0, 1))
	res := mustUpdate(t, g, batchAt(1, 2))

	assert.Equal(t, 1, res.EdgesCreated)
	require.Equal(t, 1, g.Len())

	c, q, n2, ok := locate(t, g, 2)
	require.True(t, ok)
	require.Len(t, c.Cliques, 1)
	assert.Equal(t, []int64{1, 2}, clusterIDs(q))

	_, _, n1, _ := locate(t, g, 1)
	assert.Equal(t, []NodeID{n2.ID}, n1.Children)
	assert.Equal(t, []NodeID{n1.ID}, n2.Parents)

	sel, ok := q.Selected()
	require.True(t, ok)
	assert.Equal(t, n2.ID, sel.ID, "most recent hypothesis should be selected")
}

func TestCompetingContinuationsBecomeSiblings(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 2}: true, {1, 3}: true}))
	mustUpdate(t, g, batchAt(0, 1))
	mustUpdate(t, g, batchAt(1, 2))
	res := mustUpdate(t, g, batchAt(1, 3))

	assert.Equal(t, 1, res.SiblingPairs)
	require.Equal(t, 1, g.Len())

	c, q2, n2, _ := locate(t, g, 2)
	_, q3, n3, _ := locate(t, g, 3)
	assert.Len(t, c.Cliques, 2)
	assert.Equal(t, 3, c.NodeCount())
	assert.NotEqual(t, q2.ID, q3.ID)
	assert.False(t, q2.Contains(n3.ID))
	assert.False(t, q3.Contains(n2.ID))
	assert.Equal(t, []NodeID{n3.ID}, n2.Siblings)
	assert.Equal(t, []NodeID{n2.ID}, n3.Siblings)

	// Both continue the same parent.
	_, _, n1, _ := locate(t, g, 1)
	assert.ElementsMatch(t, []NodeID{n2.ID, n3.ID}, n1.Children)
}

func TestLaterContinuationBecomesSiblingOfEarlierOne(t *testing.T) {
	t.Parallel()

	// H2 (t=1) and H3 (t=2) both continue H1, and H2 does not continue
	// into H3, so they compete across batches.
	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 2}: true, {1, 3}: true}))
	mustUpdate(t, g, batchAt(0, 1))
	mustUpdate(t, g, batchAt(1, 2))
	res := mustUpdate(t, g, batchAt(2, 3))

	assert.Equal(t, 1, res.EdgesCreated)
	assert.Equal(t, 1, res.SiblingPairs)
	require.Equal(t, 1, g.Len())

	c, q2, n2, _ := locate(t, g, 2)
	_, q3, n3, _ := locate(t, g, 3)
	_, _, n1, _ := locate(t, g, 1)
	assert.Equal(t, []NodeID{n1.ID}, n3.Parents)
	assert.Empty(t, n2.Children)
	assert.Equal(t, []NodeID{n3.ID}, n2.Siblings)
	assert.Equal(t, []NodeID{n2.ID}, n3.Siblings)

	assert.Len(t, c.Cliques, 2)
	assert.NotEqual(t, q2.ID, q3.ID)
	assert.False(t, q3.Contains(n2.ID))

	// A continuation of H2 is not a competitor of H2.
	g = newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 2}: true, {1, 3}: true, {2, 3}: true}))
	mustUpdate(t, g, batchAt(0, 1))
	mustUpdate(t, g, batchAt(1, 2))
	res = mustUpdate(t, g, batchAt(2, 3))
	assert.Zero(t, res.SiblingPairs)
	_, q2, n2, _ = locate(t, g, 2)
	_, q3, n3, _ = locate(t, g, 3)
	assert.Empty(t, n3.Siblings)
	assert.Equal(t, q2.ID, q3.ID)
}

func TestUnextendedNodeAgesOut(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTimestampGap = time.Second
	cfg.AgingWindow = 2 * time.Second
	chain := links{{1, 2}: true, {2, 3}: true, {3, 4}: true, {4, 5}: true}
	g := newTestGraph(t, cfg, WithKinematicTest(chain))

	mustUpdate(t, g, batchAt(0, 100))
	for ts := int64(1); ts <= 5; ts++ {
		res := mustUpdate(t, g, batchAt(ts, ts))
		_, _, _, present := locate(t, g, 100)
		switch {
		case ts <= 2:
			assert.True(t, present, "t=%d: node should still be within the aging window", ts)
		case ts == 3:
			assert.False(t, present, "t=%d: node should have aged out", ts)
			assert.Equal(t, 1, res.NodesAged)
		default:
			assert.False(t, present)
		}
	}
	assert.Equal(t, 1, g.Len(), "only the continued chain should remain")
}

func TestMergeBridgingComponents(t *testing.T) {
	t.Parallel()

	for _, order := range [][]int64{{1, 2}, {2, 1}} {
		order := order
		t.Run("", func(t *testing.T) {
			t.Parallel()

			rec := &recordingCollector{}
			g := newTestGraph(t, testConfig(),
				WithKinematicTest(links{{1, 3}: true, {2, 3}: true}),
				WithDebugCollector(rec))
			mustUpdate(t, g, batchAt(0, order...))
			require.Equal(t, 2, g.Len())
			first, err := g.Component(0)
			require.NoError(t, err)

			res := mustUpdate(t, g, batchAt(1, 3))
			assert.Equal(t, 1, res.Merges)
			require.Equal(t, 1, g.Len())

			c, err := g.Component(0)
			require.NoError(t, err)
			assert.Equal(t, first.ID, c.ID, "earliest component keeps its identity")
			assert.Equal(t, 3, c.NodeCount())
			for _, id := range []int64{1, 2, 3} {
				got, _, _, ok := locate(t, g, id)
				require.True(t, ok, "node %d lost in merge", id)
				assert.Equal(t, c.ID, got.ID)
			}
			require.Len(t, rec.merges, 1)
			assert.Equal(t, first.ID, rec.merges[0][0])
		})
	}
}

func TestCapacityEvictsLeastRecentlyUpdated(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxComponents = 2
	rec := &recordingCollector{}
	g := newTestGraph(t, cfg, WithKinematicTest(links{}), WithDebugCollector(rec))

	res := mustUpdate(t, g, batchAt(0, 1, 2, 3))
	assert.Equal(t, 1, res.Evictions)
	assert.Equal(t, 1, res.NodesEvicted)
	assert.Equal(t, 2, g.Len())
	_, _, _, ok := locate(t, g, 1)
	assert.False(t, ok, "oldest component should be evicted on a tie")

	mustUpdate(t, g, batchAt(1, 4))
	assert.Equal(t, 2, g.Len())
	for id, want := range map[int64]bool{2: false, 3: true, 4: true} {
		_, _, _, ok := locate(t, g, id)
		assert.Equal(t, want, ok, "node %d", id)
	}
	assert.Len(t, rec.evictions, 2)

	for ts := int64(2); ts < 20; ts++ {
		mustUpdate(t, g, batchAt(ts, 10*ts, 10*ts+1, 10*ts+2))
		assert.LessOrEqual(t, g.Len(), cfg.MaxComponents)
	}
}

func TestStaleBatchLeavesGraphUnchanged(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 2}: true}))
	mustUpdate(t, g, batchAt(0, 1))
	mustUpdate(t, g, batchAt(2, 2))

	before := g.Snapshot()
	components := g.Components()

	_, err := g.Update(batchAt(1, 5), nil)
	assert.True(t, errors.Is(err, ErrStaleBatch))

	mixed := l4perception.Batch{
		TimestampNanos: 3 * second,
		Hypotheses:     []l4perception.BoxModel{hyp(6, 3), hyp(7, 4)},
	}
	_, err = g.Update(mixed, nil)
	assert.True(t, errors.Is(err, ErrStaleBatch))

	assert.Same(t, before, g.Snapshot())
	assert.Equal(t, 2, g.NodeCount())
	if diff := cmp.Diff(components, g.Components()); diff != "" {
		t.Errorf("graph changed after stale batch (-want +got):\n%s", diff)
	}
	ts, ok := g.LastTimestamp()
	assert.True(t, ok)
	assert.Equal(t, 2*second, ts)
}

func TestEmptyBatchOnlyAges(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 3}: true}))
	mustUpdate(t, g, batchAt(0, 1, 2))
	mustUpdate(t, g, batchAt(1, 3))

	before := g.Components()
	res := mustUpdate(t, g, l4perception.Batch{TimestampNanos: 1 * second})
	assert.Zero(t, res.NodesCreated)
	if diff := cmp.Diff(before, g.Components()); diff != "" {
		t.Errorf("empty batch changed membership (-want +got):\n%s", diff)
	}

	res = mustUpdate(t, g, l4perception.Batch{TimestampNanos: 20 * second})
	assert.Equal(t, 3, res.NodesAged, "childless nodes age and their parents follow")
	assert.Zero(t, g.Len())
	assert.Zero(t, g.NodeCount())
}

func TestKinematicFailuresAreIncompatible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		test KinematicTest
	}{
		{
			name: "error",
			test: KinematicTestFunc(func(TrackingContext, l4perception.BoxModel, l4perception.BoxModel) (bool, error) {
				return true, errors.New("model unavailable")
			}),
		},
		{
			name: "panic",
			test: KinematicTestFunc(func(TrackingContext, l4perception.BoxModel, l4perception.BoxModel) (bool, error) {
				panic("boom")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &recordingCollector{}
			g := newTestGraph(t, testConfig(), WithKinematicTest(tt.test), WithDebugCollector(rec))
			mustUpdate(t, g, batchAt(0, 1))
			res := mustUpdate(t, g, batchAt(1, 2))

			assert.Zero(t, res.EdgesCreated)
			assert.Equal(t, 1, res.Orphans)
			assert.Equal(t, 2, g.Len())
			assert.Equal(t, 1, rec.errs)
			assert.Equal(t, 1, rec.rejected)
		})
	}
}

func TestEdgesAreTimeOrdered(t *testing.T) {
	t.Parallel()

	all := KinematicTestFunc(func(TrackingContext, l4perception.BoxModel, l4perception.BoxModel) (bool, error) {
		return true, nil
	})
	g := newTestGraph(t, testConfig(), WithKinematicTest(all))
	for ts := int64(0); ts < 6; ts++ {
		mustUpdate(t, g, batchAt(ts, 10*ts, 10*ts+1))
	}

	byID := make(map[NodeID]NodeView)
	for _, c := range g.Components() {
		for _, q := range c.Cliques {
			for _, n := range q.Nodes {
				byID[n.ID] = n
			}
		}
	}
	require.Len(t, byID, 12)
	for _, n := range byID {
		for _, child := range n.Children {
			assert.Less(t, n.Box.TimestampNanos, byID[child].Box.TimestampNanos)
		}
		// Same-batch hypotheses are never compatible with each other.
		for _, p := range n.Parents {
			assert.NotEqual(t, n.Box.TimestampNanos, byID[p].Box.TimestampNanos)
		}
	}
}

func TestAgingSplitsDisconnectedComponent(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTimestampGap = time.Second
	cfg.AgingWindow = 2 * time.Second
	cfg.RetentionWindow = 2 * time.Second
	rec := &recordingCollector{}
	g := newTestGraph(t, cfg, WithDebugCollector(rec), WithKinematicTest(links{
		{1, 2}: true, {1, 3}: true,
		{2, 4}: true, {3, 5}: true,
		{4, 6}: true, {5, 7}: true,
	}))

	mustUpdate(t, g, batchAt(0, 1))
	mustUpdate(t, g, batchAt(1, 2, 3))
	mustUpdate(t, g, batchAt(2, 4, 5))
	require.Equal(t, 1, g.Len())
	original, err := g.Component(0)
	require.NoError(t, err)

	res := mustUpdate(t, g, batchAt(3, 6, 7))
	assert.Equal(t, 1, res.NodesRetired)
	assert.Equal(t, 1, res.Splits)
	require.Equal(t, 2, g.Len())

	kept, _, _, _ := locate(t, g, 6)
	split, _, _, _ := locate(t, g, 7)
	assert.Equal(t, original.ID, kept.ID, "part holding the newest node keeps the identity")
	assert.NotEqual(t, kept.ID, split.ID)
	assert.Equal(t, 3, kept.NodeCount())
	assert.Equal(t, 3, split.NodeCount())
	require.Len(t, rec.splits, 1)
	assert.Equal(t, original.ID, rec.splits[0][0])
}

func TestRetentionBoundsLongChains(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTimestampGap = time.Second
	cfg.AgingWindow = time.Second
	cfg.RetentionWindow = 3 * time.Second
	chain := links{}
	for id := int64(1); id < 6; id++ {
		chain[[2]int64{id, id + 1}] = true
	}
	g := newTestGraph(t, cfg, WithKinematicTest(chain))

	retired := 0
	for ts := int64(0); ts <= 5; ts++ {
		res := mustUpdate(t, g, batchAt(ts, ts+1))
		retired += res.NodesRetired
	}
	assert.Equal(t, 2, retired)
	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, 1, g.Len())
	for id := int64(1); id <= 6; id++ {
		_, _, _, ok := locate(t, g, id)
		assert.Equal(t, id > 2, ok, "node %d", id)
	}
}

func TestWithScorerOverridesSelection(t *testing.T) {
	t.Parallel()

	earliest := ScorerFunc(func(a, b *GraphNode) bool {
		return a.TimestampNanos() < b.TimestampNanos()
	})
	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 2}: true}), WithScorer(earliest))
	mustUpdate(t, g, batchAt(0, 1))
	mustUpdate(t, g, batchAt(1, 2))

	frame := g.Tracks()
	require.Len(t, frame.Tracks, 1)
	assert.Equal(t, int64(1), frame.Tracks[0].Box.ClusterID)
}

func TestTracksOnePerComponent(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig(), WithKinematicTest(links{{1, 3}: true, {2, 4}: true}))
	mustUpdate(t, g, batchAt(0, 1, 2))
	res := mustUpdate(t, g, batchAt(1, 3, 4))

	frame := g.Tracks()
	assert.Equal(t, res.FrameID, frame.FrameID)
	assert.Equal(t, 1*second, frame.TimestampNanos)
	require.Len(t, frame.Tracks, 2)

	ids := map[int64]bool{}
	for i, tr := range frame.Tracks {
		c, err := g.Component(i)
		require.NoError(t, err)
		assert.Equal(t, c.ID, tr.ComponentID)
		assert.Equal(t, 2, tr.NodeCount)
		assert.Equal(t, 1, tr.CliqueCount)
		ids[tr.Box.ClusterID] = true
	}
	assert.Equal(t, map[int64]bool{3: true, 4: true}, ids)
}

func TestComponentIndexOutOfRange(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, testConfig())
	_, err := g.Component(0)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))

	mustUpdate(t, g, batchAt(0, 1))
	_, err = g.Component(-1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	_, err = g.Component(1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	_, err = g.Snapshot().Component(1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*GraphConfig)
	}{
		{"zero capacity", func(c *GraphConfig) { c.MaxComponents = 0 }},
		{"negative capacity", func(c *GraphConfig) { c.MaxComponents = -3 }},
		{"zero gap", func(c *GraphConfig) { c.MaxTimestampGap = 0 }},
		{"zero aging window", func(c *GraphConfig) { c.AgingWindow = 0 }},
		{"negative retention", func(c *GraphConfig) { c.RetentionWindow = -time.Second }},
		{"retention shorter than aging", func(c *GraphConfig) { c.RetentionWindow = time.Second }},
		{"unknown scoring", func(c *GraphConfig) { c.SelectionScoring = "loudest" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			g, err := New(cfg)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestGraphConfigFromTuning(t *testing.T) {
	t.Parallel()

	cfg := DefaultGraphConfig()
	assert.Equal(t, 64, cfg.MaxComponents)
	assert.Equal(t, 500*time.Millisecond, cfg.MaxTimestampGap)
	assert.Equal(t, time.Second, cfg.AgingWindow)
	assert.Equal(t, 10*time.Second, cfg.RetentionWindow)
	assert.Equal(t, ScoringMostRecent, cfg.SelectionScoring)
	require.NoError(t, cfg.Validate())

	tuning := config.EmptyTuningConfig()
	scoring := ScoringHighestConfidence
	tuning.SelectionScoring = &scoring
	assert.Equal(t, ScoringHighestConfidence, GraphConfigFromTuning(tuning).SelectionScoring)
}

func TestDefaultGateTracksMovingAndParkedCars(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, DefaultGraphConfig())
	const frames = 10
	step := int64(100 * time.Millisecond)
	for i := int64(0); i < frames; i++ {
		ts := i * step
		b := l4perception.Batch{TimestampNanos: ts, Hypotheses: []l4perception.BoxModel{
			{ClusterID: 1, X: float64(i), Y: 0, Length: 4.5, Width: 1.8, Height: 1.5, TimestampNanos: ts},
			{ClusterID: 2, X: 50, Y: 20, HeadingRad: 1.2, Length: 4.2, Width: 1.7, Height: 1.4, TimestampNanos: ts},
		}}
		mustUpdate(t, g, b)
	}

	require.Equal(t, 2, g.Len())
	frame := g.Tracks()
	require.Len(t, frame.Tracks, 2)
	for _, tr := range frame.Tracks {
		assert.Equal(t, (frames-1)*step, tr.Box.TimestampNanos)
		assert.Equal(t, frames, tr.NodeCount)
	}
	assert.Equal(t, float64(frames-1), frame.Tracks[0].Box.X)
}

func TestSnapshotReadsDuringUpdates(t *testing.T) {
	t.Parallel()

	all := KinematicTestFunc(func(TrackingContext, l4perception.BoxModel, l4perception.BoxModel) (bool, error) {
		return true, nil
	})
	cfg := testConfig()
	cfg.MaxTimestampGap = time.Second
	cfg.AgingWindow = time.Second
	g := newTestGraph(t, cfg, WithKinematicTest(all))

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s := g.Snapshot()
			for _, c := range s.Components {
				assert.GreaterOrEqual(t, c.NodeCount(), 1)
			}
			_ = g.Len()
		}
	}()

	for ts := int64(0); ts < 50; ts++ {
		_, err := g.Update(batchAt(ts, ts), nil)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
	require.NoError(t, g.CheckInvariants())
}
