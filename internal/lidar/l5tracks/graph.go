package l5tracks

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/hypgraph/internal/config"
	"github.com/banshee-data/hypgraph/internal/lidar/motion"
)

// GraphConfig holds the neighborhood graph parameters.
type GraphConfig struct {
	MaxComponents    int           // Capacity ceiling on live components
	MaxTimestampGap  time.Duration // Compatibility window between parent and child
	AgingWindow      time.Duration // How long a node without children survives
	RetentionWindow  time.Duration // Hard horizon for any node; 0 disables
	SelectionScoring string        // Name of the selection scorer
}

// DefaultGraphConfig returns the built-in graph defaults.
func DefaultGraphConfig() GraphConfig {
	return GraphConfigFromTuning(config.EmptyTuningConfig())
}

// GraphConfigFromTuning builds a GraphConfig from a loaded TuningConfig.
func GraphConfigFromTuning(cfg *config.TuningConfig) GraphConfig {
	return GraphConfig{
		MaxComponents:    cfg.GetMaxComponents(),
		MaxTimestampGap:  cfg.GetMaxTimestampGap(),
		AgingWindow:      cfg.GetAgingWindow(),
		RetentionWindow:  cfg.GetRetentionWindow(),
		SelectionScoring: cfg.GetSelectionScoring(),
	}
}

// Validate checks the configuration. Errors wrap ErrConfiguration.
func (c GraphConfig) Validate() error {
	if c.MaxComponents <= 0 {
		return fmt.Errorf("%w: max_components must be positive, got %d", ErrConfiguration, c.MaxComponents)
	}
	if c.MaxTimestampGap <= 0 {
		return fmt.Errorf("%w: max_timestamp_gap must be positive, got %s", ErrConfiguration, c.MaxTimestampGap)
	}
	if c.AgingWindow <= 0 {
		return fmt.Errorf("%w: aging_window must be positive, got %s", ErrConfiguration, c.AgingWindow)
	}
	if c.RetentionWindow < 0 {
		return fmt.Errorf("%w: retention_window must not be negative, got %s", ErrConfiguration, c.RetentionWindow)
	}
	if c.RetentionWindow > 0 && c.RetentionWindow < c.AgingWindow {
		return fmt.Errorf("%w: retention_window %s is shorter than aging_window %s",
			ErrConfiguration, c.RetentionWindow, c.AgingWindow)
	}
	if _, err := ScorerByName(c.SelectionScoring); err != nil {
		return err
	}
	return nil
}

// DebugCollector receives per-cycle graph events. debug.DebugCollector
// satisfies it.
type DebugCollector interface {
	IsEnabled() bool
	RecordCompatibility(parentID, childID uint64, dtSeconds float64, compatible bool, err error)
	RecordMerge(survivor, absorbed uuid.UUID)
	RecordSplit(source, created uuid.UUID)
	RecordEviction(component uuid.UUID, nodeCount int)
	RecordAging(nodeID uint64, timestampNanos int64, retention bool)
}

// Option configures a NeighborhoodGraph.
type Option func(*NeighborhoodGraph)

// WithKinematicTest replaces the default motion.Gate feasibility test.
func WithKinematicTest(test KinematicTest) Option {
	return func(g *NeighborhoodGraph) {
		if test != nil {
			g.test = test
		}
	}
}

// WithScorer overrides the scorer named by GraphConfig.SelectionScoring.
func WithScorer(s Scorer) Option {
	return func(g *NeighborhoodGraph) {
		if s != nil {
			g.scorer = s
		}
	}
}

// WithDebugCollector attaches a collector for graph events.
func WithDebugCollector(c DebugCollector) Option {
	return func(g *NeighborhoodGraph) {
		g.debug = c
	}
}

// NeighborhoodGraph is the top-level multi-hypothesis container: a bounded,
// ordered collection of components. Update is the sole mutator.
type NeighborhoodGraph struct {
	mu sync.RWMutex

	cfg    GraphConfig
	test   KinematicTest
	scorer Scorer
	debug  DebugCollector

	nodes      arena[GraphNode]
	cliques    arena[CompleteSubgraph]
	components arena[DisconnectedSubgraph]

	// order is the component traversal order (creation order). Removed
	// components leave a zero handle until compactOrder runs.
	order []ComponentHandle
	count int

	nextNodeID       NodeID
	nextCliqueID     uint64
	nextComponentSeq uint64

	lastTimestamp int64
	started       bool
	frameID       uint64

	snapshot atomic.Pointer[Snapshot]
}

// New returns an empty graph. It fails with ErrConfiguration when cfg is
// invalid.
func New(cfg GraphConfig, opts ...Option) (*NeighborhoodGraph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scorer, _ := ScorerByName(cfg.SelectionScoring)
	g := &NeighborhoodGraph{
		cfg:    cfg,
		test:   motion.NewGate(motion.DefaultGateConfig()),
		scorer: scorer,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.snapshot.Store(&Snapshot{})
	return g, nil
}

// Config returns the graph configuration.
func (g *NeighborhoodGraph) Config() GraphConfig {
	return g.cfg
}

func (g *NeighborhoodGraph) node(h NodeHandle) *GraphNode {
	return g.nodes.get(handle(h))
}

func (g *NeighborhoodGraph) clique(h CliqueHandle) *CompleteSubgraph {
	return g.cliques.get(handle(h))
}

// Len returns the number of live components.
func (g *NeighborhoodGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// NodeCount returns the number of live nodes.
func (g *NeighborhoodGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.len()
}

// LastTimestamp returns the timestamp of the last processed batch, and
// false before the first batch.
func (g *NeighborhoodGraph) LastTimestamp() (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastTimestamp, g.started
}

// Component returns the i-th component in traversal order.
func (g *NeighborhoodGraph) Component(i int) (ComponentView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i < 0 || i >= len(g.order) {
		return ComponentView{}, fmt.Errorf("%w: index %d, %d components", ErrIndexOutOfRange, i, len(g.order))
	}
	return g.componentView(g.order[i]), nil
}

// Components returns views of every component in traversal order.
func (g *NeighborhoodGraph) Components() []ComponentView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ComponentView, 0, len(g.order))
	for _, h := range g.order {
		out = append(out, g.componentView(h))
	}
	return out
}

// Snapshot returns the immutable view published by the last Update. It
// never blocks on a running update.
func (g *NeighborhoodGraph) Snapshot() *Snapshot {
	return g.snapshot.Load()
}

// Tracks returns the selected track per component from the latest snapshot.
func (g *NeighborhoodGraph) Tracks() TrackFrame {
	return g.Snapshot().Tracks()
}

// CheckInvariants verifies the structural invariants of the graph:
// membership is exact, selections are valid, the component count is within
// capacity, edges are time ordered and symmetric, and no compatibility edge
// crosses components.
func (g *NeighborhoodGraph) CheckInvariants() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.count > g.cfg.MaxComponents {
		return fmt.Errorf("component count %d exceeds max %d", g.count, g.cfg.MaxComponents)
	}
	if g.count != g.components.len() || g.count != len(g.order) {
		return fmt.Errorf("component count %d, arena %d, order %d", g.count, g.components.len(), len(g.order))
	}

	seenClique := make(map[CliqueHandle]ComponentHandle)
	for _, ch := range g.order {
		comp := g.component(ch)
		if comp == nil {
			return fmt.Errorf("order holds dead component handle %v", ch)
		}
		if len(comp.Cliques) == 0 {
			return fmt.Errorf("component %s has no cliques", comp.ID)
		}
		for _, qh := range comp.Cliques {
			if owner, dup := seenClique[qh]; dup {
				return fmt.Errorf("clique %v listed by components %v and %v", qh, owner, ch)
			}
			seenClique[qh] = ch
			q := g.clique(qh)
			if q == nil {
				return fmt.Errorf("component %s lists dead clique %v", comp.ID, qh)
			}
			if q.component != ch {
				return fmt.Errorf("clique %d owner mismatch", q.ID)
			}
		}
	}
	if len(seenClique) != g.cliques.len() {
		return fmt.Errorf("%d cliques reachable, %d live", len(seenClique), g.cliques.len())
	}

	seenNode := make(map[NodeHandle]CliqueHandle)
	var err error
	g.cliques.each(func(h handle, q *CompleteSubgraph) {
		if err != nil {
			return
		}
		if len(q.Nodes) == 0 {
			err = fmt.Errorf("clique %d is empty", q.ID)
			return
		}
		if q.selected < 0 || q.selected >= len(q.Nodes) {
			err = fmt.Errorf("clique %d selected index %d out of range", q.ID, q.selected)
			return
		}
		for i, nh := range q.Nodes {
			if _, dup := seenNode[nh]; dup {
				err = fmt.Errorf("node %v in more than one clique", nh)
				return
			}
			seenNode[nh] = CliqueHandle(h)
			n := g.node(nh)
			if n == nil {
				err = fmt.Errorf("clique %d lists dead node %v", q.ID, nh)
				return
			}
			if n.clique != CliqueHandle(h) {
				err = fmt.Errorf("node %d clique back-reference mismatch", n.ID)
				return
			}
			for _, oh := range q.Nodes[:i] {
				if !g.node(oh).IsParentOf(nh) {
					err = fmt.Errorf("clique %d members %d and %d are not compatible", q.ID, g.node(oh).ID, n.ID)
					return
				}
			}
		}
	})
	if err != nil {
		return err
	}
	if len(seenNode) != g.nodes.len() {
		return fmt.Errorf("%d nodes reachable, %d live", len(seenNode), g.nodes.len())
	}

	g.nodes.each(func(h handle, n *GraphNode) {
		if err != nil {
			return
		}
		self := NodeHandle(h)
		for _, ch := range n.Children {
			c := g.node(ch)
			if c == nil {
				err = fmt.Errorf("node %d has dead child", n.ID)
				return
			}
			if c.TimestampNanos() <= n.TimestampNanos() {
				err = fmt.Errorf("edge %d→%d is not time ordered", n.ID, c.ID)
				return
			}
			if !containsNode(c.Parents, self) {
				err = fmt.Errorf("edge %d→%d missing parent back-reference", n.ID, c.ID)
				return
			}
			if g.componentOf(ch) != g.componentOf(self) {
				err = fmt.Errorf("edge %d→%d crosses components", n.ID, c.ID)
				return
			}
		}
		for _, ph := range n.Parents {
			p := g.node(ph)
			if p == nil || !containsNode(p.Children, self) {
				err = fmt.Errorf("node %d parent link is not symmetric", n.ID)
				return
			}
		}
		for _, sh := range n.Siblings {
			s := g.node(sh)
			if s == nil || !containsNode(s.Siblings, self) {
				err = fmt.Errorf("node %d sibling link is not symmetric", n.ID)
				return
			}
		}
	})
	return err
}
