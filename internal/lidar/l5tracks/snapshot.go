package l5tracks

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

// NodeView is a read-only copy of a GraphNode with relations resolved to ids.
type NodeView struct {
	ID       NodeID                `json:"id"`
	Box      l4perception.BoxModel `json:"box"`
	Parents  []NodeID              `json:"parents,omitempty"`
	Children []NodeID              `json:"children,omitempty"`
	Siblings []NodeID              `json:"siblings,omitempty"`
}

// CliqueView is a read-only copy of a CompleteSubgraph.
type CliqueView struct {
	ID            uint64     `json:"id"`
	Nodes         []NodeView `json:"nodes"`
	SelectedIndex int        `json:"selected_index"`
}

// Contains reports whether the clique holds the node with the given id.
func (c CliqueView) Contains(id NodeID) bool {
	for _, n := range c.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// Selected returns the selected node, or false when the clique is empty.
func (c CliqueView) Selected() (NodeView, bool) {
	if c.SelectedIndex < 0 || c.SelectedIndex >= len(c.Nodes) {
		return NodeView{}, false
	}
	return c.Nodes[c.SelectedIndex], true
}

// ComponentView is a read-only copy of a DisconnectedSubgraph.
type ComponentView struct {
	ID              uuid.UUID    `json:"id"`
	CreatedNanos    int64        `json:"created_nanos"`
	LastUpdateNanos int64        `json:"last_update_nanos"`
	Cliques         []CliqueView `json:"cliques"`

	// SelectedClique indexes the clique whose selected node is the best in
	// the component, or -1.
	SelectedClique int `json:"selected_clique"`
}

// NodeCount returns the number of nodes across all cliques.
func (c ComponentView) NodeCount() int {
	total := 0
	for _, q := range c.Cliques {
		total += len(q.Nodes)
	}
	return total
}

// Selected returns the component's best node.
func (c ComponentView) Selected() (NodeView, bool) {
	if c.SelectedClique < 0 || c.SelectedClique >= len(c.Cliques) {
		return NodeView{}, false
	}
	return c.Cliques[c.SelectedClique].Selected()
}

// FindNode returns the node with the given id and the index of its clique.
func (c ComponentView) FindNode(id NodeID) (NodeView, int, bool) {
	for qi, q := range c.Cliques {
		for _, n := range q.Nodes {
			if n.ID == id {
				return n, qi, true
			}
		}
	}
	return NodeView{}, -1, false
}

// SelectedTrack is the per-component output handed to consumers.
type SelectedTrack struct {
	ComponentID uuid.UUID             `json:"component_id"`
	NodeID      NodeID                `json:"node_id"`
	Box         l4perception.BoxModel `json:"box"`
	CliqueCount int                   `json:"clique_count"`
	NodeCount   int                   `json:"node_count"`
}

// TrackFrame is the set of selected tracks after one update cycle.
type TrackFrame struct {
	FrameID        uint64          `json:"frame_id"`
	TimestampNanos int64           `json:"timestamp_nanos"`
	Tracks         []SelectedTrack `json:"tracks"`
}

// Snapshot is an immutable copy of the graph published after each Update.
type Snapshot struct {
	FrameID        uint64          `json:"frame_id"`
	TimestampNanos int64           `json:"timestamp_nanos"`
	Components     []ComponentView `json:"components"`
	NodeCount      int             `json:"node_count"`
}

// Len returns the number of components.
func (s *Snapshot) Len() int {
	return len(s.Components)
}

// Component returns the i-th component in traversal order.
func (s *Snapshot) Component(i int) (ComponentView, error) {
	if i < 0 || i >= len(s.Components) {
		return ComponentView{}, fmt.Errorf("%w: index %d, %d components", ErrIndexOutOfRange, i, len(s.Components))
	}
	return s.Components[i], nil
}

// Tracks returns the selected track of every component.
func (s *Snapshot) Tracks() TrackFrame {
	frame := TrackFrame{
		FrameID:        s.FrameID,
		TimestampNanos: s.TimestampNanos,
		Tracks:         make([]SelectedTrack, 0, len(s.Components)),
	}
	for _, c := range s.Components {
		n, ok := c.Selected()
		if !ok {
			continue
		}
		frame.Tracks = append(frame.Tracks, SelectedTrack{
			ComponentID: c.ID,
			NodeID:      n.ID,
			Box:         n.Box,
			CliqueCount: len(c.Cliques),
			NodeCount:   c.NodeCount(),
		})
	}
	return frame
}

func (g *NeighborhoodGraph) buildSnapshot(frameID uint64, ts int64) *Snapshot {
	s := &Snapshot{
		FrameID:        frameID,
		TimestampNanos: ts,
		Components:     make([]ComponentView, 0, len(g.order)),
		NodeCount:      g.nodes.len(),
	}
	for _, h := range g.order {
		s.Components = append(s.Components, g.componentView(h))
	}
	return s
}

func (g *NeighborhoodGraph) componentView(h ComponentHandle) ComponentView {
	c := g.component(h)
	if c == nil {
		return ComponentView{SelectedClique: -1}
	}
	view := ComponentView{
		ID:              c.ID,
		CreatedNanos:    c.CreatedNanos,
		LastUpdateNanos: c.LastUpdateNanos,
		Cliques:         make([]CliqueView, 0, len(c.Cliques)),
		SelectedClique:  -1,
	}
	var best *GraphNode
	for _, qh := range c.Cliques {
		q := g.clique(qh)
		if q == nil {
			continue
		}
		view.Cliques = append(view.Cliques, g.cliqueView(q))
		if n, _, ok := q.Selected(); ok && (best == nil || g.scorer.Better(n, best)) {
			best = n
			view.SelectedClique = len(view.Cliques) - 1
		}
	}
	return view
}

func (g *NeighborhoodGraph) cliqueView(q *CompleteSubgraph) CliqueView {
	view := CliqueView{
		ID:            q.ID,
		Nodes:         make([]NodeView, 0, len(q.Nodes)),
		SelectedIndex: q.selected,
	}
	for _, nh := range q.Nodes {
		n := g.node(nh)
		if n == nil {
			continue
		}
		view.Nodes = append(view.Nodes, NodeView{
			ID:       n.ID,
			Box:      n.Box,
			Parents:  g.nodeIDs(n.Parents),
			Children: g.nodeIDs(n.Children),
			Siblings: g.nodeIDs(n.Siblings),
		})
	}
	return view
}

func (g *NeighborhoodGraph) nodeIDs(hs []NodeHandle) []NodeID {
	if len(hs) == 0 {
		return nil
	}
	out := make([]NodeID, 0, len(hs))
	for _, h := range hs {
		if n := g.node(h); n != nil {
			out = append(out, n.ID)
		}
	}
	return out
}
