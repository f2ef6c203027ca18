package motion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

const tenthSecond = int64(100_000_000)

func car(x, y, heading float64, ts int64) l4perception.BoxModel {
	return l4perception.BoxModel{X: x, Y: y, HeadingRad: heading, Length: 4.5, Width: 1.8, Height: 1.5, TimestampNanos: ts}
}

func TestGateFeasible(t *testing.T) {
	t.Parallel()

	gate := NewGate(DefaultGateConfig())

	tests := []struct {
		name string
		from l4perception.BoxModel
		to   l4perception.BoxModel
		want bool
	}{
		{
			name: "stationary",
			from: car(10, 5, 0, 0),
			to:   car(10, 5, 0, tenthSecond),
			want: true,
		},
		{
			name: "moving along heading at 25 m/s",
			from: car(10, 5, 0, 0),
			to:   car(12.5, 5, 0, tenthSecond),
			want: true,
		},
		{
			name: "same displacement sideways",
			from: car(10, 5, 0, 0),
			to:   car(10, 7.5, 0, tenthSecond),
			want: false,
		},
		{
			name: "along a rotated heading",
			from: car(0, 0, math.Pi/2, 0),
			to:   car(0, 2.5, math.Pi/2, tenthSecond),
			want: true,
		},
		{
			name: "heading flipped by half a turn",
			from: car(0, 0, 0.1, 0),
			to:   car(0.5, 0, 0.1+math.Pi, tenthSecond),
			want: true,
		},
		{
			name: "heading swings too fast",
			from: car(0, 0, 0, 0),
			to:   car(0.5, 0, 1.0, tenthSecond),
			want: false,
		},
		{
			name: "footprint more than doubles",
			from: car(0, 0, 0, 0),
			to: l4perception.BoxModel{
				X: 0.5, Length: 10, Width: 1.8, Height: 1.5, TimestampNanos: tenthSecond,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.Feasible(nil, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGateRejectsNonIncreasingTime(t *testing.T) {
	t.Parallel()

	gate := NewGate(DefaultGateConfig())
	ok, err := gate.Feasible(nil, car(0, 0, 0, tenthSecond), car(0, 0, 0, tenthSecond))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNonIncreasingTime))
}

func TestGateRejectsInvalidBox(t *testing.T) {
	t.Parallel()

	gate := NewGate(DefaultGateConfig())
	bad := car(math.NaN(), 0, 0, tenthSecond)
	ok, err := gate.Feasible(nil, car(0, 0, 0, 0), bad)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestGateEgoMotionCompensation(t *testing.T) {
	t.Parallel()

	gate := NewGate(DefaultGateConfig())
	halfSecond := 5 * tenthSecond

	// A parked car seen from a vehicle drifting sideways at 10 m/s appears to
	// slide 5 m laterally between observations.
	from := car(10, 0, 0, 0)
	to := car(10, -5, 0, halfSecond)

	ok, err := gate.Feasible(nil, from, to)
	require.NoError(t, err)
	assert.False(t, ok, "uncompensated lateral slide should fail the gate")

	ego := EgoMotion{VY: 10}
	ok, err = gate.Feasible(ego, from, to)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Feasible(&ego, from, to)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMahalanobisBoundaryAtMaxReach(t *testing.T) {
	t.Parallel()

	cfg := DefaultGateConfig()
	cfg.PositionNoiseM = 0
	gate := NewGate(cfg)

	reach := cfg.MaxSpeedMps * 0.1
	d2, err := gate.MahalanobisSquared(car(0, 0, 0, 0), car(reach, 0, 0, tenthSecond), 0.1)
	require.NoError(t, err)
	assert.InDelta(t, cfg.GateChi2, d2, 1e-6)
}

func TestGateConfigFromTuningDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultGateConfig()
	assert.Equal(t, 30.0, cfg.MaxSpeedMps)
	assert.Equal(t, 9.21, cfg.GateChi2)
	assert.Equal(t, 2.0, cfg.MaxDimensionRatio)
}
