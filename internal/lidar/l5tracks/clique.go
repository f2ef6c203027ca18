package l5tracks

// CompleteSubgraph is a set of pairwise-compatible GraphNodes: one
// self-consistent candidate track. It tracks which member is currently
// selected as the best-supported hypothesis.
type CompleteSubgraph struct {
	ID    uint64
	Nodes []NodeHandle

	// selected indexes Nodes, or is -1 when Nodes is empty.
	selected  int
	component ComponentHandle

	// nodes is the owning graph's node arena, used to resolve members.
	nodes *arena[GraphNode]
}

// Contains reports whether h is a member of the clique.
func (c *CompleteSubgraph) Contains(h NodeHandle) bool {
	return containsNode(c.Nodes, h)
}

// Len returns the number of member nodes.
func (c *CompleteSubgraph) Len() int {
	return len(c.Nodes)
}

// SelectedIndex returns the position of the selected node, or -1.
func (c *CompleteSubgraph) SelectedIndex() int {
	return c.selected
}

// Component returns the handle of the owning DisconnectedSubgraph.
func (c *CompleteSubgraph) Component() ComponentHandle {
	return c.component
}

// Selected returns the currently chosen node, or false when empty.
func (c *CompleteSubgraph) Selected() (*GraphNode, NodeHandle, bool) {
	if c.selected < 0 || c.selected >= len(c.Nodes) {
		return nil, NodeHandle{}, false
	}
	h := c.Nodes[c.selected]
	n := c.nodes.get(handle(h))
	if n == nil {
		return nil, NodeHandle{}, false
	}
	return n, h, true
}

// SelectBest recomputes the selected index with the given scorer.
func (c *CompleteSubgraph) SelectBest(scorer Scorer) {
	c.selected = -1
	var best *GraphNode
	for i, h := range c.Nodes {
		n := c.nodes.get(handle(h))
		if n == nil {
			continue
		}
		if best == nil || scorer.Better(n, best) {
			best = n
			c.selected = i
		}
	}
}

func (c *CompleteSubgraph) add(h NodeHandle) {
	c.Nodes = append(c.Nodes, h)
	if c.selected < 0 {
		c.selected = 0
	}
}

// remove drops h, keeping selected a valid position. The caller refreshes
// the selection before the cycle ends.
func (c *CompleteSubgraph) remove(h NodeHandle) bool {
	for i, x := range c.Nodes {
		if x != h {
			continue
		}
		c.Nodes = append(c.Nodes[:i], c.Nodes[i+1:]...)
		switch {
		case len(c.Nodes) == 0:
			c.selected = -1
		case c.selected > i:
			c.selected--
		case c.selected >= len(c.Nodes):
			c.selected = len(c.Nodes) - 1
		}
		return true
	}
	return false
}
