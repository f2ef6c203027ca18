package l5tracks

import (
	"github.com/google/uuid"
)

// DisconnectedSubgraph is a connected component of the association graph:
// cliques transitively linked by compatibility edges. Its ID is stable for
// the life of the tracked object and survives merges and splits.
type DisconnectedSubgraph struct {
	ID      uuid.UUID
	Cliques []CliqueHandle

	CreatedNanos    int64
	LastUpdateNanos int64

	// seq orders components by creation; lower is older.
	seq     uint64
	context TrackingContext
}

// Context returns the tracking context of the last cycle that touched the
// component.
func (c *DisconnectedSubgraph) Context() TrackingContext {
	return c.context
}

// Seq returns the creation sequence number.
func (c *DisconnectedSubgraph) Seq() uint64 {
	return c.seq
}

// olderThan orders components for survivorship and eviction tie-breaks.
func (c *DisconnectedSubgraph) olderThan(o *DisconnectedSubgraph) bool {
	return c.seq < o.seq
}

func (g *NeighborhoodGraph) newComponent(nowNanos int64, tc TrackingContext) ComponentHandle {
	g.nextComponentSeq++
	h := ComponentHandle(g.components.alloc(DisconnectedSubgraph{
		ID:              uuid.New(),
		CreatedNanos:    nowNanos,
		LastUpdateNanos: nowNanos,
		seq:             g.nextComponentSeq,
		context:         tc,
	}))
	g.order = append(g.order, h)
	g.count++
	return h
}

func (g *NeighborhoodGraph) component(h ComponentHandle) *DisconnectedSubgraph {
	return g.components.get(handle(h))
}

// componentOf resolves the component owning node h.
func (g *NeighborhoodGraph) componentOf(h NodeHandle) ComponentHandle {
	n := g.node(h)
	if n == nil {
		return ComponentHandle{}
	}
	c := g.clique(n.clique)
	if c == nil {
		return ComponentHandle{}
	}
	return c.component
}

// merge absorbs b into a, whichever was created first surviving. Every
// clique of the absorbed component is re-pointed to the survivor and the
// absorbed slot is released. It returns the survivor.
func (g *NeighborhoodGraph) merge(a, b ComponentHandle) ComponentHandle {
	if a == b {
		return a
	}
	ca, cb := g.component(a), g.component(b)
	if ca == nil {
		return b
	}
	if cb == nil {
		return a
	}
	if cb.olderThan(ca) {
		a, b = b, a
		ca, cb = cb, ca
	}

	for _, ch := range cb.Cliques {
		if c := g.clique(ch); c != nil {
			c.component = a
		}
	}
	ca.Cliques = append(ca.Cliques, cb.Cliques...)
	if cb.LastUpdateNanos > ca.LastUpdateNanos {
		ca.LastUpdateNanos = cb.LastUpdateNanos
	}

	diagf("merged component %s into %s (%d cliques)", cb.ID, ca.ID, len(ca.Cliques))
	if g.debug != nil && g.debug.IsEnabled() {
		g.debug.RecordMerge(ca.ID, cb.ID)
	}
	g.dropComponent(b)
	return a
}

// dropComponent releases a component slot and tombstones its position in
// the traversal order. The caller is responsible for its cliques.
func (g *NeighborhoodGraph) dropComponent(h ComponentHandle) {
	if !g.components.release(handle(h)) {
		return
	}
	for i, x := range g.order {
		if x == h {
			g.order[i] = ComponentHandle{}
			break
		}
	}
	g.count--
}

// compactOrder removes tombstones from the traversal order.
func (g *NeighborhoodGraph) compactOrder() {
	live := g.order[:0]
	for _, h := range g.order {
		if g.component(h) != nil {
			live = append(live, h)
		}
	}
	for i := len(live); i < len(g.order); i++ {
		g.order[i] = ComponentHandle{}
	}
	g.order = live
}

// split partitions a component whose cliques are no longer transitively
// linked. The part holding the newest node keeps the component and its ID;
// every other part becomes a new component appended to the traversal order.
// It returns the number of components created.
func (g *NeighborhoodGraph) split(h ComponentHandle, nowNanos int64) int {
	comp := g.component(h)
	if comp == nil || len(comp.Cliques) < 2 {
		return 0
	}

	index := make(map[CliqueHandle]int, len(comp.Cliques))
	for i, ch := range comp.Cliques {
		index[ch] = i
	}
	parent := make([]int, len(comp.Cliques))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i, ch := range comp.Cliques {
		c := g.clique(ch)
		if c == nil {
			continue
		}
		for _, nh := range c.Nodes {
			n := g.node(nh)
			if n == nil {
				continue
			}
			for _, rel := range [][]NodeHandle{n.Parents, n.Children} {
				for _, oh := range rel {
					o := g.node(oh)
					if o == nil {
						continue
					}
					if j, ok := index[o.clique]; ok {
						union(i, j)
					}
				}
			}
		}
	}

	groups := make(map[int][]CliqueHandle)
	var roots []int
	for i, ch := range comp.Cliques {
		r := find(i)
		if _, seen := groups[r]; !seen {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], ch)
	}
	if len(roots) < 2 {
		return 0
	}

	// The survivor group holds the newest node.
	keep := roots[0]
	var newest *GraphNode
	for _, r := range roots {
		for _, ch := range groups[r] {
			for _, nh := range g.clique(ch).Nodes {
				n := g.node(nh)
				if newest == nil || n.TimestampNanos() > newest.TimestampNanos() ||
					(n.TimestampNanos() == newest.TimestampNanos() && n.ID < newest.ID) {
					newest = n
					keep = r
				}
			}
		}
	}

	comp.Cliques = groups[keep]
	lastUpdate, ctx, origID := comp.LastUpdateNanos, comp.context, comp.ID
	created := 0
	for _, r := range roots {
		if r == keep {
			continue
		}
		nh := g.newComponent(nowNanos, ctx)
		nc := g.component(nh)
		nc.LastUpdateNanos = lastUpdate
		nc.Cliques = groups[r]
		for _, ch := range nc.Cliques {
			g.clique(ch).component = nh
		}
		created++
		diagf("split component %s: new component %s with %d cliques", origID, nc.ID, len(nc.Cliques))
		if g.debug != nil && g.debug.IsEnabled() {
			g.debug.RecordSplit(origID, nc.ID)
		}
	}
	return created
}
