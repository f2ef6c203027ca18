package motion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/hypgraph/internal/config"
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

// minDimensionM is the extent below which dimension ratios are not checked;
// very small boxes are dominated by clustering noise.
const minDimensionM = 0.2

// ErrNonIncreasingTime is returned when the later box is not strictly later.
var ErrNonIncreasingTime = errors.New("motion: boxes are not in increasing time order")

// GateConfig holds the kinematic gate parameters.
type GateConfig struct {
	MaxSpeedMps         float64 // Longitudinal reach per second
	MaxLateralSpeedMps  float64 // Lateral reach per second
	MaxYawRateRadPerSec float64 // Heading change per second
	HeadingToleranceRad float64 // Heading change allowed regardless of dt
	PositionNoiseM      float64 // Per-observation position noise (1σ)
	GateChi2            float64 // Mahalanobis gate, 2 DOF
	MaxDimensionRatio   float64 // Largest allowed length/width growth or shrink factor
}

// DefaultGateConfig returns the built-in gate defaults.
func DefaultGateConfig() GateConfig {
	return GateConfigFromTuning(config.EmptyTuningConfig())
}

// GateConfigFromTuning builds a GateConfig from a loaded TuningConfig.
func GateConfigFromTuning(cfg *config.TuningConfig) GateConfig {
	return GateConfig{
		MaxSpeedMps:         cfg.GetMaxSpeedMps(),
		MaxLateralSpeedMps:  cfg.GetMaxLateralSpeedMps(),
		MaxYawRateRadPerSec: cfg.GetMaxYawRateRadPerSec(),
		HeadingToleranceRad: cfg.GetHeadingToleranceRad(),
		PositionNoiseM:      cfg.GetPositionNoiseM(),
		GateChi2:            cfg.GetGateChi2(),
		MaxDimensionRatio:   cfg.GetMaxDimensionRatio(),
	}
}

// EgoMotion describes the sensor's own movement, expressed in the frame the
// boxes are reported in. Pass it (or a pointer to it) as the tracking context
// when boxes are sensor-relative.
type EgoMotion struct {
	VX               float64 // m/s
	VY               float64 // m/s
	YawRateRadPerSec float64
}

// Gate is the default kinematic feasibility test.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a Gate with the given configuration.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Config returns the gate configuration.
func (g *Gate) Config() GateConfig {
	return g.cfg
}

// Feasible reports whether an object observed as from could have become to.
// tc may be nil, EgoMotion or *EgoMotion; any other value is ignored.
func (g *Gate) Feasible(tc any, from, to l4perception.BoxModel) (bool, error) {
	if to.TimestampNanos <= from.TimestampNanos {
		return false, ErrNonIncreasingTime
	}
	if err := from.Validate(); err != nil {
		return false, fmt.Errorf("earlier box: %w", err)
	}
	if err := to.Validate(); err != nil {
		return false, fmt.Errorf("later box: %w", err)
	}
	dt := float64(to.TimestampNanos-from.TimestampNanos) / 1e9

	switch ego := tc.(type) {
	case EgoMotion:
		from = compensate(from, ego, dt)
	case *EgoMotion:
		if ego != nil {
			from = compensate(from, *ego, dt)
		}
	}

	if !g.headingFeasible(from.HeadingRad, to.HeadingRad, dt) {
		return false, nil
	}
	if !g.dimensionsFeasible(from, to) {
		return false, nil
	}

	d2, err := g.MahalanobisSquared(from, to, dt)
	if err != nil {
		return false, err
	}
	return d2 <= g.cfg.GateChi2, nil
}

// headingFeasible compares headings modulo π; a box is symmetric under a
// half-turn and PCA headings flip freely between frames.
func (g *Gate) headingFeasible(fromRad, toRad, dt float64) bool {
	diff := math.Abs(l4perception.NormaliseHeading(toRad - fromRad))
	if diff > math.Pi/2 {
		diff = math.Pi - diff
	}
	return diff <= g.cfg.MaxYawRateRadPerSec*dt+g.cfg.HeadingToleranceRad
}

func (g *Gate) dimensionsFeasible(from, to l4perception.BoxModel) bool {
	if g.cfg.MaxDimensionRatio <= 0 {
		return true
	}
	return ratioWithin(from.Length, to.Length, g.cfg.MaxDimensionRatio) &&
		ratioWithin(from.Width, to.Width, g.cfg.MaxDimensionRatio)
}

func ratioWithin(a, b, limit float64) bool {
	hi, lo := math.Max(a, b), math.Min(a, b)
	if hi < minDimensionM {
		return true
	}
	if lo < minDimensionM {
		lo = minDimensionM
	}
	return hi/lo <= limit
}

// MahalanobisSquared returns the squared Mahalanobis distance of the
// displacement from → to under the anisotropic reach covariance. A
// displacement exactly at maximum reach lands on the GateChi2 boundary.
func (g *Gate) MahalanobisSquared(from, to l4perception.BoxModel, dt float64) (float64, error) {
	lon := g.cfg.MaxSpeedMps * dt
	lat := g.cfg.MaxLateralSpeedMps * dt
	chi2 := g.cfg.GateChi2
	if chi2 <= 0 {
		chi2 = 1
	}
	noise := 2 * g.cfg.PositionNoiseM * g.cfg.PositionNoiseM

	c, s := math.Cos(from.HeadingRad), math.Sin(from.HeadingRad)
	varLon := lon * lon / chi2
	varLat := lat * lat / chi2

	// S = R diag(varLon, varLat) Rᵀ + noise·I
	s00 := c*c*varLon + s*s*varLat + noise
	s01 := c*s*(varLon-varLat)
	s11 := s*s*varLon + c*c*varLat + noise
	cov := mat.NewSymDense(2, []float64{s00, s01, s01, s11})

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return 0, fmt.Errorf("motion: reach covariance is not positive definite (dt=%.3fs)", dt)
	}

	innovation := mat.NewVecDense(2, []float64{to.X - from.X, to.Y - from.Y})
	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, innovation); err != nil {
		return 0, fmt.Errorf("motion: solve reach covariance: %w", err)
	}
	return mat.Dot(innovation, &solved), nil
}

// compensate moves an earlier box into the sensor frame at the later time.
func compensate(b l4perception.BoxModel, ego EgoMotion, dt float64) l4perception.BoxModel {
	x := b.X - ego.VX*dt
	y := b.Y - ego.VY*dt
	yaw := -ego.YawRateRadPerSec * dt
	c, s := math.Cos(yaw), math.Sin(yaw)
	b.X = c*x - s*y
	b.Y = s*x + c*y
	b.HeadingRad = l4perception.NormaliseHeading(b.HeadingRad + yaw)
	return b
}
