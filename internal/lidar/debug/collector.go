// Package debug provides instrumentation for the neighborhood graph tracker.
// The DebugCollector captures algorithm internals (compatibility decisions,
// component merges and splits, evictions, aging) for inspection and tuning.
package debug

import "github.com/google/uuid"

// Pre-allocation capacities for debug frame slices.
// Based on typical street scene complexity:
//   - ~10-20 live hypotheses per cycle × a few candidate parents each
//   - merges, splits and evictions are rare per cycle
const (
	defaultCompatibilityCapacity = 64
	defaultEventCapacity         = 4
	defaultAgingCapacity         = 16
)

// DebugCollector accumulates debug artifacts during a single cycle's processing.
// When enabled, it records graph internals: which node pairs were tested for
// compatibility, which components merged, split or were evicted, and which
// nodes aged out.
//
// The collector is stateful: call Record*() methods during processing, then
// Emit() at cycle completion to extract the artifacts. Reset() before the next cycle.
type DebugCollector struct {
	enabled bool
	current *DebugFrame
}

// DebugFrame contains all debug artifacts for a single cycle.
type DebugFrame struct {
	FrameID uint64 `json:"frame_id"`

	// Edge discovery: which parent→child pairs were evaluated
	Compatibility []CompatibilityRecord `json:"compatibility"`

	// Component restructuring
	Merges    []MergeRecord    `json:"merges"`
	Splits    []SplitRecord    `json:"splits"`
	Evictions []EvictionRecord `json:"evictions"`

	// Node removal by the aging window or retention horizon
	Aged []AgingRecord `json:"aged"`
}

// CompatibilityRecord captures one parent→child compatibility evaluation.
type CompatibilityRecord struct {
	ParentID   uint64  `json:"parent_id"`
	ChildID    uint64  `json:"child_id"`
	DtSeconds  float32 `json:"dt_seconds"`
	Compatible bool    `json:"compatible"`
	Error      string  `json:"error,omitempty"` // Kinematic test failure, if any
}

// MergeRecord captures a component absorbed into an older one.
type MergeRecord struct {
	Survivor uuid.UUID `json:"survivor"`
	Absorbed uuid.UUID `json:"absorbed"`
}

// SplitRecord captures a component partitioned after aging.
type SplitRecord struct {
	Source  uuid.UUID `json:"source"`
	Created uuid.UUID `json:"created"`
}

// EvictionRecord captures a component dropped for capacity.
type EvictionRecord struct {
	ComponentID uuid.UUID `json:"component_id"`
	NodeCount   int       `json:"node_count"`
}

// AgingRecord captures a node removed by age.
type AgingRecord struct {
	NodeID         uint64 `json:"node_id"`
	TimestampNanos int64  `json:"timestamp_nanos"`
	Retention      bool   `json:"retention"` // Removed by the retention horizon rather than the aging window
}

// NewDebugCollector creates a collector that's initially disabled.
// Call SetEnabled(true) to begin collecting artifacts.
func NewDebugCollector() *DebugCollector {
	return &DebugCollector{}
}

// SetEnabled controls whether the collector records artifacts.
// When disabled, all Record*() calls are no-ops.
func (c *DebugCollector) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *DebugCollector) IsEnabled() bool {
	return c.enabled
}

// BeginFrame initialises collection for a new cycle.
// Must be called before any Record*() calls.
func (c *DebugCollector) BeginFrame(frameID uint64) {
	if !c.enabled {
		return
	}
	c.current = &DebugFrame{
		FrameID:       frameID,
		Compatibility: make([]CompatibilityRecord, 0, defaultCompatibilityCapacity),
		Merges:        make([]MergeRecord, 0, defaultEventCapacity),
		Splits:        make([]SplitRecord, 0, defaultEventCapacity),
		Evictions:     make([]EvictionRecord, 0, defaultEventCapacity),
		Aged:          make([]AgingRecord, 0, defaultAgingCapacity),
	}
}

func (c *DebugCollector) recording() bool {
	return c.enabled && c.current != nil
}

// RecordCompatibility captures a parent→child compatibility evaluation.
func (c *DebugCollector) RecordCompatibility(parentID, childID uint64, dtSeconds float64, compatible bool, err error) {
	if !c.recording() {
		return
	}
	rec := CompatibilityRecord{
		ParentID:   parentID,
		ChildID:    childID,
		DtSeconds:  float32(dtSeconds),
		Compatible: compatible,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	c.current.Compatibility = append(c.current.Compatibility, rec)
}

// RecordMerge captures a component merge.
func (c *DebugCollector) RecordMerge(survivor, absorbed uuid.UUID) {
	if !c.recording() {
		return
	}
	c.current.Merges = append(c.current.Merges, MergeRecord{Survivor: survivor, Absorbed: absorbed})
}

// RecordSplit captures a component split.
func (c *DebugCollector) RecordSplit(source, created uuid.UUID) {
	if !c.recording() {
		return
	}
	c.current.Splits = append(c.current.Splits, SplitRecord{Source: source, Created: created})
}

// RecordEviction captures a capacity eviction.
func (c *DebugCollector) RecordEviction(component uuid.UUID, nodeCount int) {
	if !c.recording() {
		return
	}
	c.current.Evictions = append(c.current.Evictions, EvictionRecord{ComponentID: component, NodeCount: nodeCount})
}

// RecordAging captures a node removed by age.
func (c *DebugCollector) RecordAging(nodeID uint64, timestampNanos int64, retention bool) {
	if !c.recording() {
		return
	}
	c.current.Aged = append(c.current.Aged, AgingRecord{
		NodeID:         nodeID,
		TimestampNanos: timestampNanos,
		Retention:      retention,
	})
}

// Emit returns the accumulated debug frame and prepares for the next cycle.
// Returns nil if collection is disabled or no frame was begun.
func (c *DebugCollector) Emit() *DebugFrame {
	if !c.recording() {
		return nil
	}
	frame := c.current
	c.current = nil // Caller must BeginFrame again
	return frame
}

// Reset clears any pending artifacts without emitting them.
// Useful when aborting a cycle.
func (c *DebugCollector) Reset() {
	c.current = nil
}
