// Package l4perception owns Layer 4 (Perception) of the LiDAR data model.
//
// Responsibilities: the box-model hypotheses produced by the sensor
// front-end each cycle, batch validation, and the JSON-lines replay
// format used to feed recorded hypotheses into the tracker.
// Key types: BoxModel, Batch, BatchReader.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4perception
