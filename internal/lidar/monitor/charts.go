package monitor

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

// echartsAssetsPrefix is where rendered pages load the echarts scripts from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ComponentChart plots tracks and nodes per frame.
func ComponentChart(summaries []FrameSummary, subtitle string) *charts.Line {
	x := make([]string, 0, len(summaries))
	tracks := make([]opts.LineData, 0, len(summaries))
	nodes := make([]opts.LineData, 0, len(summaries))
	cliques := make([]opts.LineData, 0, len(summaries))
	for _, s := range summaries {
		x = append(x, strconv.FormatUint(s.FrameID, 10))
		tracks = append(tracks, opts.LineData{Value: s.Tracks})
		nodes = append(nodes, opts.LineData{Value: s.Nodes})
		cliques = append(cliques, opts.LineData{Value: s.MaxCliques})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Hypothesis Graph", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Components per frame", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).
		AddSeries("tracks", tracks).
		AddSeries("nodes", nodes).
		AddSeries("max cliques", cliques)
	return line
}

// TrackScatter plots the selected boxes of one frame on the site plane.
func TrackScatter(frame l5tracks.TrackFrame) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(frame.Tracks))
	for _, t := range frame.Tracks {
		data = append(data, opts.ScatterData{
			Name:  t.ComponentID.String()[:8],
			Value: []interface{}{t.Box.X, t.Box.Y, t.NodeCount},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Selected tracks",
			Subtitle: fmt.Sprintf("frame=%d t=%s tracks=%d", frame.FrameID, time.Unix(0, frame.TimestampNanos).UTC().Format(time.RFC3339Nano), len(frame.Tracks)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("tracks", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// RenderReport writes an HTML page with the component chart and the
// latest frame's tracks.
func RenderReport(w io.Writer, summaries []FrameSummary, latest l5tracks.TrackFrame, subtitle string) error {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(ComponentChart(summaries, subtitle), TrackScatter(latest))
	return page.Render(w)
}
