// Package main replays a recorded hypothesis stream through the neighborhood
// graph offline and writes an HTML chart report, a track trail plot and a
// JSON summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/hypgraph/internal/config"
	"github.com/banshee-data/hypgraph/internal/lidar/debug"
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
	"github.com/banshee-data/hypgraph/internal/lidar/monitor"
	"github.com/banshee-data/hypgraph/internal/lidar/motion"
	"github.com/banshee-data/hypgraph/internal/lidar/pipeline"
)

// Config holds configuration for a report run.
type Config struct {
	InputFile  string
	ConfigFile string
	OutputDir  string
	Title      string
	MaxFrames  int
	Check      bool
}

// ReportResult is written to summary.json.
type ReportResult struct {
	InputFile        string        `json:"input_file"`
	Batches          uint64        `json:"batches"`
	StaleBatches     uint64        `json:"stale_batches"`
	Frames           int           `json:"frames"`
	SpanNanos        int64         `json:"span_nanos"`
	MaxComponents    int           `json:"max_components"`
	MaxNodes         int           `json:"max_nodes"`
	Merges           int           `json:"merges"`
	Splits           int           `json:"splits"`
	Evictions        int           `json:"evictions"`
	AgedNodes        int           `json:"aged_nodes"`
	InvariantErrors  int           `json:"invariant_errors"`
	ProcessingTime   time.Duration `json:"processing_time_ns"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
}

func main() {
	cfg := parseFlags()

	if cfg.InputFile == "" {
		log.Fatal("input file is required")
	}
	result, err := runReport(context.Background(), cfg)
	if err != nil {
		log.Fatalf("report failed: %v", err)
	}
	log.Printf("Processed %d batches (%d stale) into %d frames in %s",
		result.Batches, result.StaleBatches, result.Frames, result.ProcessingTime)
	log.Printf("Peak: %d components, %d nodes; %d merges, %d splits, %d evictions",
		result.MaxComponents, result.MaxNodes, result.Merges, result.Splits, result.Evictions)
	if result.InvariantErrors > 0 {
		log.Printf("WARNING: %d frames failed the graph invariant check", result.InvariantErrors)
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}
	flag.StringVar(&cfg.InputFile, "input", "", "JSON-lines hypothesis recording (required)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Tuning JSON file (built-in defaults when empty)")
	flag.StringVar(&cfg.OutputDir, "output", ".", "Directory for report.html, trails.png and summary.json")
	flag.StringVar(&cfg.Title, "title", "", "Report subtitle (defaults to the input file name)")
	flag.IntVar(&cfg.MaxFrames, "max-frames", 5000, "Frames kept for charts")
	flag.BoolVar(&cfg.Check, "check", true, "Verify graph invariants after every batch")
	flag.Parse()
	return cfg
}

// runReport replays cfg.InputFile and writes the report files.
func runReport(ctx context.Context, cfg Config) (*ReportResult, error) {
	tuning := config.DefaultTuningConfig()
	if cfg.ConfigFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	dc := debug.NewDebugCollector()
	dc.SetEnabled(true)
	graph, err := l5tracks.New(l5tracks.GraphConfigFromTuning(tuning),
		l5tracks.WithKinematicTest(motion.NewGate(motion.GateConfigFromTuning(tuning))),
		l5tracks.WithDebugCollector(dc),
	)
	if err != nil {
		return nil, err
	}

	result := &ReportResult{InputFile: cfg.InputFile}
	recorder := monitor.NewTrackRecorder(cfg.MaxFrames)
	var first, last int64
	peaks := pipeline.TrackSinkFunc(func(_ context.Context, frame l5tracks.TrackFrame) error {
		if result.Frames == 0 {
			first = frame.TimestampNanos
		}
		last = frame.TimestampNanos
		result.Frames++
		if len(frame.Tracks) > result.MaxComponents {
			result.MaxComponents = len(frame.Tracks)
		}
		if n := graph.NodeCount(); n > result.MaxNodes {
			result.MaxNodes = n
		}
		if cfg.Check {
			if err := graph.CheckInvariants(); err != nil {
				result.InvariantErrors++
				log.Printf("frame %d: %v", frame.FrameID, err)
			}
		}
		return nil
	})

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Source:  l4perception.NewBatchReader(f),
		Tracker: graph,
		Sinks:   []pipeline.TrackSink{recorder, peaks},
		Debug:   dc,
		OnDebugFrame: func(df *debug.DebugFrame) {
			result.Merges += len(df.Merges)
			result.Splits += len(df.Splits)
			result.Evictions += len(df.Evictions)
			result.AgedNodes += len(df.Aged)
		},
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := runner.Run(ctx); err != nil {
		return nil, err
	}
	result.ProcessingTime = time.Since(start)
	result.ProcessingTimeMs = result.ProcessingTime.Milliseconds()
	rs := runner.Stats()
	result.Batches = rs.Batches
	result.StaleBatches = rs.Stale
	result.SpanNanos = last - first

	if err := writeOutputs(cfg, recorder, result); err != nil {
		return nil, err
	}
	return result, nil
}

func writeOutputs(cfg Config, recorder *monitor.TrackRecorder, result *ReportResult) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	title := cfg.Title
	if title == "" {
		title = filepath.Base(cfg.InputFile)
	}

	frames := recorder.Frames()
	var latest l5tracks.TrackFrame
	if len(frames) > 0 {
		latest = frames[len(frames)-1]
	}

	htmlPath := filepath.Join(cfg.OutputDir, "report.html")
	hf, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := monitor.RenderReport(hf, recorder.Summaries(), latest, title); err != nil {
		hf.Close()
		return fmt.Errorf("failed to render report: %w", err)
	}
	if err := hf.Close(); err != nil {
		return err
	}
	log.Printf("Wrote %s", htmlPath)

	if len(frames) > 0 {
		pngPath := filepath.Join(cfg.OutputDir, "trails.png")
		if err := monitor.SaveTrailPlot(pngPath, frames, title); err != nil {
			return fmt.Errorf("failed to save trail plot: %w", err)
		}
		log.Printf("Wrote %s", pngPath)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	summaryPath := filepath.Join(cfg.OutputDir, "summary.json")
	if err := os.WriteFile(summaryPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	log.Printf("Wrote %s", summaryPath)
	return nil
}
