package l5tracks

import (
	"fmt"
	"sort"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

// UpdateResult summarises one Update cycle.
type UpdateResult struct {
	FrameID        uint64
	TimestampNanos int64

	NodesCreated   int
	EdgesCreated   int
	SiblingPairs   int
	Orphans        int
	NodesAged      int
	NodesRetired   int // removed by the retention horizon
	Merges         int
	Splits         int
	Evictions      int
	NodesEvicted   int
	CliquesTouched int

	Components int
	Nodes      int
}

// cycle carries the bookkeeping of one Update call.
type cycle struct {
	now     int64
	tc      TrackingContext
	result  UpdateResult
	touched map[CliqueHandle]struct{}
	// affected lists components that lost nodes and may need splitting.
	affected map[ComponentHandle]struct{}
}

func (cy *cycle) touch(h CliqueHandle) {
	cy.touched[h] = struct{}{}
}

// Update ingests one hypothesis batch. It is the only mutator of the graph
// and runs to completion under the exclusive lock. A batch whose
// hypotheses disagree on the timestamp, or whose timestamp is earlier than
// the last processed batch, is rejected with ErrStaleBatch and leaves the
// graph unchanged. An empty batch only ages and evicts.
func (g *NeighborhoodGraph) Update(batch l4perception.Batch, tc TrackingContext) (UpdateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !batch.Consistent() {
		return UpdateResult{}, fmt.Errorf("%w: hypotheses do not share batch timestamp %d",
			ErrStaleBatch, batch.TimestampNanos)
	}
	if g.started && batch.TimestampNanos < g.lastTimestamp {
		return UpdateResult{}, fmt.Errorf("%w: batch timestamp %d is earlier than last processed %d",
			ErrStaleBatch, batch.TimestampNanos, g.lastTimestamp)
	}

	cy := &cycle{
		now:      batch.TimestampNanos,
		tc:       tc,
		touched:  make(map[CliqueHandle]struct{}),
		affected: make(map[ComponentHandle]struct{}),
	}
	g.frameID++
	cy.result.FrameID = g.frameID
	cy.result.TimestampNanos = cy.now

	candidates := g.parentCandidates(cy.now)
	fresh := g.createNodes(batch)
	cy.result.NodesCreated = len(fresh)

	for _, nh := range fresh {
		g.discoverEdges(cy, nh, candidates)
	}
	for _, nh := range fresh {
		g.markSiblings(cy, nh)
	}
	for _, nh := range fresh {
		g.place(cy, nh)
	}

	g.age(cy)
	for _, ch := range g.affectedInOrder(cy) {
		cy.result.Splits += g.split(ch, cy.now)
	}
	g.enforceCapacity(cy)

	for qh := range cy.touched {
		if q := g.clique(qh); q != nil {
			q.SelectBest(g.scorer)
		}
	}
	cy.result.CliquesTouched = len(cy.touched)

	g.compactOrder()
	g.lastTimestamp = cy.now
	g.started = true

	cy.result.Components = g.count
	cy.result.Nodes = g.nodes.len()
	g.snapshot.Store(g.buildSnapshot(cy.result.FrameID, cy.now))

	diagf("frame %d t=%d: +%d nodes, %d edges, %d merges, %d splits, -%d aged, -%d retired, %d evicted, %d components",
		cy.result.FrameID, cy.now, cy.result.NodesCreated, cy.result.EdgesCreated, cy.result.Merges,
		cy.result.Splits, cy.result.NodesAged, cy.result.NodesRetired, cy.result.Evictions, cy.result.Components)
	return cy.result, nil
}

// parentCandidates lists live nodes that may still gain children at now:
// within the timestamp gap and not about to age out.
func (g *NeighborhoodGraph) parentCandidates(now int64) []NodeHandle {
	gap := g.cfg.MaxTimestampGap.Nanoseconds()
	agingCutoff := now - g.cfg.AgingWindow.Nanoseconds()
	var out []NodeHandle
	g.nodes.each(func(h handle, n *GraphNode) {
		ts := n.TimestampNanos()
		if ts >= now || now-ts > gap {
			return
		}
		if ts < agingCutoff && !n.HasChild() {
			return
		}
		if g.retired(ts, now) {
			return
		}
		out = append(out, NodeHandle(h))
	})
	return out
}

func (g *NeighborhoodGraph) retired(ts, now int64) bool {
	return g.cfg.RetentionWindow > 0 && ts < now-g.cfg.RetentionWindow.Nanoseconds()
}

func (g *NeighborhoodGraph) createNodes(batch l4perception.Batch) []NodeHandle {
	fresh := make([]NodeHandle, 0, len(batch.Hypotheses))
	for _, box := range batch.Hypotheses {
		g.nextNodeID++
		h := NodeHandle(g.nodes.alloc(GraphNode{ID: g.nextNodeID, Box: box}))
		fresh = append(fresh, h)
	}
	return fresh
}

func (g *NeighborhoodGraph) discoverEdges(cy *cycle, nh NodeHandle, candidates []NodeHandle) {
	n := g.node(nh)
	for _, ph := range candidates {
		p := g.node(ph)
		if !g.compatible(cy.tc, p, n) {
			continue
		}
		p.Children = append(p.Children, nh)
		n.Parents = append(n.Parents, ph)
		cy.touch(p.clique)
		cy.result.EdgesCreated++
	}
}

// markSiblings pairs a new node with every other child of its parents that
// does not itself continue into the new node.
func (g *NeighborhoodGraph) markSiblings(cy *cycle, nh NodeHandle) {
	n := g.node(nh)
	for _, ph := range n.Parents {
		for _, sh := range g.node(ph).Children {
			if sh == nh || containsNode(n.Parents, sh) {
				continue
			}
			if n.addSibling(sh) {
				g.node(sh).addSibling(nh)
				cy.result.SiblingPairs++
			}
		}
	}
}

// place assigns a new node to a clique and component, merging every
// component its parents belong to.
func (g *NeighborhoodGraph) place(cy *cycle, nh NodeHandle) {
	n := g.node(nh)
	if len(n.Parents) == 0 {
		ch := g.newComponent(cy.now, cy.tc)
		qh := g.newClique(ch, nh)
		n.clique = qh
		cy.touch(qh)
		cy.result.Orphans++
		return
	}

	parents := append([]NodeHandle(nil), n.Parents...)
	sort.SliceStable(parents, func(i, j int) bool {
		a, b := g.node(parents[i]), g.node(parents[j])
		if a.TimestampNanos() != b.TimestampNanos() {
			return a.TimestampNanos() > b.TimestampNanos()
		}
		return a.ID < b.ID
	})

	var target CliqueHandle
	for _, ph := range parents {
		q := g.clique(g.node(ph).clique)
		if g.allParents(q, n) {
			target = g.node(ph).clique
			break
		}
	}

	comp := g.componentOf(parents[0])
	for _, ph := range parents[1:] {
		other := g.componentOf(ph)
		if other != comp {
			comp = g.merge(comp, other)
			cy.result.Merges++
		}
	}

	if target.Valid() {
		g.clique(target).add(nh)
		n.clique = target
	} else {
		target = g.newClique(comp, nh)
		n.clique = target
	}
	cy.touch(target)

	c := g.component(comp)
	c.LastUpdateNanos = cy.now
	c.context = cy.tc
}

// allParents reports whether every member of q is a parent of n, i.e.
// whether n can join q and keep it a clique.
func (g *NeighborhoodGraph) allParents(q *CompleteSubgraph, n *GraphNode) bool {
	for _, mh := range q.Nodes {
		if !containsNode(n.Parents, mh) {
			return false
		}
	}
	return true
}

func (g *NeighborhoodGraph) newClique(comp ComponentHandle, first NodeHandle) CliqueHandle {
	g.nextCliqueID++
	qh := CliqueHandle(g.cliques.alloc(CompleteSubgraph{
		ID:        g.nextCliqueID,
		selected:  -1,
		component: comp,
		nodes:     &g.nodes,
	}))
	g.clique(qh).add(first)
	c := g.component(comp)
	c.Cliques = append(c.Cliques, qh)
	return qh
}

// age removes nodes past the retention horizon, then nodes older than the
// aging window that have no child. Nodes are visited newest first so a
// parent orphaned by a removed child is itself reconsidered.
func (g *NeighborhoodGraph) age(cy *cycle) {
	agingCutoff := cy.now - g.cfg.AgingWindow.Nanoseconds()

	type aged struct {
		h  NodeHandle
		id NodeID
		ts int64
	}
	var old []aged
	g.nodes.each(func(h handle, n *GraphNode) {
		if n.TimestampNanos() < agingCutoff {
			old = append(old, aged{h: NodeHandle(h), id: n.ID, ts: n.TimestampNanos()})
		}
	})
	if len(old) == 0 {
		return
	}
	sort.Slice(old, func(i, j int) bool {
		if old[i].ts != old[j].ts {
			return old[i].ts > old[j].ts
		}
		return old[i].id > old[j].id
	})

	for _, a := range old {
		if !g.retired(a.ts, cy.now) {
			continue
		}
		g.recordAging(a.id, a.ts, true)
		g.removeNode(cy, a.h)
		cy.result.NodesRetired++
	}
	for _, a := range old {
		n := g.node(a.h)
		if n == nil || n.HasChild() {
			continue
		}
		g.recordAging(a.id, a.ts, false)
		g.removeNode(cy, a.h)
		cy.result.NodesAged++
	}
}

func (g *NeighborhoodGraph) recordAging(id NodeID, ts int64, retention bool) {
	tracef("aging node %d t=%d retention=%v", id, ts, retention)
	if g.debug != nil && g.debug.IsEnabled() {
		g.debug.RecordAging(uint64(id), ts, retention)
	}
}

// removeNode detaches a node from every relation and its clique, dropping
// the clique and component when they become empty.
func (g *NeighborhoodGraph) removeNode(cy *cycle, nh NodeHandle) {
	n := g.node(nh)
	if n == nil {
		return
	}
	for _, ph := range n.Parents {
		if p := g.node(ph); p != nil {
			p.Children = withoutNode(p.Children, nh)
			cy.touch(p.clique)
		}
	}
	for _, ch := range n.Children {
		if c := g.node(ch); c != nil {
			c.Parents = withoutNode(c.Parents, nh)
			cy.touch(c.clique)
		}
	}
	for _, sh := range n.Siblings {
		if s := g.node(sh); s != nil {
			s.Siblings = withoutNode(s.Siblings, nh)
		}
	}

	qh := n.clique
	g.nodes.release(handle(nh))

	q := g.clique(qh)
	if q == nil {
		return
	}
	q.remove(nh)
	cy.touch(qh)
	if len(q.Nodes) > 0 {
		cy.affected[q.component] = struct{}{}
		return
	}

	comp := q.component
	g.cliques.release(handle(qh))
	c := g.component(comp)
	if c == nil {
		return
	}
	c.Cliques = withoutClique(c.Cliques, qh)
	if len(c.Cliques) == 0 {
		g.dropComponent(comp)
		delete(cy.affected, comp)
		return
	}
	cy.affected[comp] = struct{}{}
}

// affectedInOrder returns the live affected components by creation order.
func (g *NeighborhoodGraph) affectedInOrder(cy *cycle) []ComponentHandle {
	out := make([]ComponentHandle, 0, len(cy.affected))
	for h := range cy.affected {
		if g.component(h) != nil {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return g.component(out[i]).olderThan(g.component(out[j]))
	})
	return out
}

// enforceCapacity evicts the least recently updated components, oldest
// creation first on ties, until the count is within the maximum.
func (g *NeighborhoodGraph) enforceCapacity(cy *cycle) {
	for g.count > g.cfg.MaxComponents {
		var victim ComponentHandle
		var vc *DisconnectedSubgraph
		for _, h := range g.order {
			c := g.component(h)
			if c == nil {
				continue
			}
			if vc == nil || c.LastUpdateNanos < vc.LastUpdateNanos ||
				(c.LastUpdateNanos == vc.LastUpdateNanos && c.olderThan(vc)) {
				victim, vc = h, c
			}
		}
		if vc == nil {
			return
		}
		g.evict(cy, victim)
	}
}

func (g *NeighborhoodGraph) evict(cy *cycle, h ComponentHandle) {
	c := g.component(h)
	id := c.ID
	var nodes []NodeHandle
	for _, qh := range c.Cliques {
		if q := g.clique(qh); q != nil {
			nodes = append(nodes, q.Nodes...)
		}
	}
	for _, nh := range nodes {
		g.removeNode(cy, nh)
	}
	// removeNode drops the component with its last clique.
	g.dropComponent(h)
	delete(cy.affected, h)

	cy.result.Evictions++
	cy.result.NodesEvicted += len(nodes)
	opsf("evicted component %s (%d nodes): capacity %d reached", id, len(nodes), g.cfg.MaxComponents)
	if g.debug != nil && g.debug.IsEnabled() {
		g.debug.RecordEviction(id, len(nodes))
	}
}
