package monitor

import (
	"fmt"
	"image/color"
	"io"

	"github.com/google/uuid"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

const (
	trailPlotWidth  = 10 * vg.Inch
	trailPlotHeight = 8 * vg.Inch

	// maxLegendEntries keeps busy scenes readable.
	maxLegendEntries = 12
)

// trail is the sequence of selected positions of one component.
type trail struct {
	id  uuid.UUID
	pts plotter.XYs
}

// collectTrails groups selected boxes by component in first-seen order.
func collectTrails(frames []l5tracks.TrackFrame) []trail {
	index := make(map[uuid.UUID]int)
	var trails []trail
	for _, f := range frames {
		for _, t := range f.Tracks {
			i, ok := index[t.ComponentID]
			if !ok {
				i = len(trails)
				index[t.ComponentID] = i
				trails = append(trails, trail{id: t.ComponentID})
			}
			// Consecutive frames may repeat a selection; skip duplicates.
			pts := trails[i].pts
			if n := len(pts); n > 0 && pts[n-1].X == t.Box.X && pts[n-1].Y == t.Box.Y {
				continue
			}
			trails[i].pts = append(trails[i].pts, plotter.XY{X: t.Box.X, Y: t.Box.Y})
		}
	}
	return trails
}

// TrailPlot draws the selected-track trails of every component seen in
// frames on the site plane.
func TrailPlot(frames []l5tracks.TrackFrame, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	trails := collectTrails(frames)
	colors := generateColors(len(trails))
	for i, tr := range trails {
		line, points, err := plotter.NewLinePoints(tr.pts)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", tr.id, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.GlyphStyle.Color = colors[i]
		points.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(line, points)
		if i < maxLegendEntries {
			p.Legend.Add(tr.id.String()[:8], line, points)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteTrailPNG renders TrailPlot as PNG to w.
func WriteTrailPNG(w io.Writer, frames []l5tracks.TrackFrame, title string) error {
	p, err := TrailPlot(frames, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(trailPlotWidth, trailPlotHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// SaveTrailPlot writes the trail plot to path; the format follows the
// file extension.
func SaveTrailPlot(path string, frames []l5tracks.TrackFrame, title string) error {
	p, err := TrailPlot(frames, title)
	if err != nil {
		return err
	}
	if err := p.Save(trailPlotWidth, trailPlotHeight, path); err != nil {
		return fmt.Errorf("save trail plot: %w", err)
	}
	return nil
}

// generateColors creates a palette of distinct colors, one per component
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
