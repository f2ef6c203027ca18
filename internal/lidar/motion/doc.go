// Package motion provides the default kinematic feasibility test used to
// decide whether one box-model hypothesis could plausibly continue another.
//
// The test is a constant-velocity gate, anisotropic along the earlier box's
// heading: objects may cover MaxSpeedMps·dt along their heading but only
// MaxLateralSpeedMps·dt sideways. Heading change and footprint change are
// bounded separately. An optional EgoMotion tracking context compensates
// for sensor movement between the two observations.
package motion
