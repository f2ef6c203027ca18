package l4perception

import (
	"fmt"
	"math"
	"time"
)

// BoxModel is a rectangular pose + dimension hypothesis for one object at one
// timestamp, in the world (site) frame.
type BoxModel struct {
	ClusterID int64  `json:"cluster_id,omitempty"` // front-end cluster identifier, informational
	SensorID  string `json:"sensor_id,omitempty"`

	X          float64 `json:"x"`       // Box centre (metres)
	Y          float64 `json:"y"`       // Box centre (metres)
	HeadingRad float64 `json:"heading"` // Rotation around Z (radians)

	Length float64 `json:"length"` // Extent along heading (metres)
	Width  float64 `json:"width"`  // Extent perpendicular to heading (metres)
	Height float64 `json:"height"` // Extent along Z (metres)

	// Confidence is the front-end's own belief in this hypothesis, [0, 1].
	Confidence float64 `json:"confidence,omitempty"`

	TimestampNanos int64 `json:"timestamp_nanos"`
}

// Time returns the hypothesis timestamp as a time.Time.
func (b BoxModel) Time() time.Time {
	return time.Unix(0, b.TimestampNanos)
}

// Area returns the footprint area in square metres.
func (b BoxModel) Area() float64 {
	return b.Length * b.Width
}

// Validate reports whether the box geometry is usable.
func (b BoxModel) Validate() error {
	for name, v := range map[string]float64{
		"x": b.X, "y": b.Y, "heading": b.HeadingRad,
		"length": b.Length, "width": b.Width, "height": b.Height,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("box %s is not finite", name)
		}
	}
	if b.Length < 0 || b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("box dimensions must be non-negative, got %.2fx%.2fx%.2f", b.Length, b.Width, b.Height)
	}
	return nil
}

// Batch is the set of hypotheses produced by one sensing cycle. All
// hypotheses share TimestampNanos.
type Batch struct {
	TimestampNanos int64      `json:"timestamp_nanos"`
	Hypotheses     []BoxModel `json:"hypotheses"`
}

// Time returns the batch timestamp as a time.Time.
func (b Batch) Time() time.Time {
	return time.Unix(0, b.TimestampNanos)
}

// Consistent reports whether every hypothesis carries the batch timestamp.
func (b Batch) Consistent() bool {
	for _, h := range b.Hypotheses {
		if h.TimestampNanos != b.TimestampNanos {
			return false
		}
	}
	return true
}

// NormaliseHeading wraps an angle into (-π, π].
func NormaliseHeading(rad float64) float64 {
	r := math.Mod(rad, 2*math.Pi)
	if r <= -math.Pi {
		r += 2 * math.Pi
	} else if r > math.Pi {
		r -= 2 * math.Pi
	}
	return r
}
