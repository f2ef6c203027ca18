package l5tracks

import (
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

// NodeID is the stable, monotonically increasing identity of a GraphNode.
// Unlike NodeHandle it is never reused.
type NodeID uint64

// GraphNode is one hypothesis instance plus its adjacency relations.
//
// Parents are earlier nodes this node could continue; Children are later
// nodes that could continue it. Siblings continue a common parent but are
// not compatible with this node, so at most one of them can be the true
// continuation.
type GraphNode struct {
	ID  NodeID
	Box l4perception.BoxModel

	Parents  []NodeHandle
	Children []NodeHandle
	Siblings []NodeHandle

	clique CliqueHandle
}

// TimestampNanos returns the hypothesis timestamp.
func (n *GraphNode) TimestampNanos() int64 {
	return n.Box.TimestampNanos
}

// EdgeCount is the number of compatibility edges (parents + children).
func (n *GraphNode) EdgeCount() int {
	return len(n.Parents) + len(n.Children)
}

// HasChild reports whether any later node continues this one.
func (n *GraphNode) HasChild() bool {
	return len(n.Children) > 0
}

// Clique returns the handle of the owning CompleteSubgraph.
func (n *GraphNode) Clique() CliqueHandle {
	return n.clique
}

// IsParentOf reports whether child is a direct child of n.
func (n *GraphNode) IsParentOf(child NodeHandle) bool {
	return containsNode(n.Children, child)
}

func (n *GraphNode) addSibling(h NodeHandle) bool {
	if containsNode(n.Siblings, h) {
		return false
	}
	n.Siblings = append(n.Siblings, h)
	return true
}
