// Package l5tracks owns Layer 5 (Tracks) of the LiDAR data model.
//
// Responsibilities: multi-hypothesis tracking over box-model hypotheses
// using a neighborhood graph. Each cycle's hypotheses are linked to
// compatible hypotheses from earlier cycles; mutually compatible nodes are
// grouped into cliques (CompleteSubgraph), transitively linked cliques into
// components (DisconnectedSubgraph), and the best node per clique and per
// component is selected for downstream consumers.
// Key types: NeighborhoodGraph, GraphNode, CompleteSubgraph,
// DisconnectedSubgraph, Snapshot.
//
// All graph entities live in arenas owned by NeighborhoodGraph; relations
// are generation-checked handles, never pointers. Update is the sole
// mutator and runs under an exclusive lock; readers use Snapshot or the
// read-locked query methods.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6.
// No SQL/database code is allowed in this package.
package l5tracks
