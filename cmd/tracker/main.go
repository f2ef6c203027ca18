package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/hypgraph/internal/config"
	"github.com/banshee-data/hypgraph/internal/db"
	"github.com/banshee-data/hypgraph/internal/lidar"
	"github.com/banshee-data/hypgraph/internal/lidar/debug"
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
	"github.com/banshee-data/hypgraph/internal/lidar/monitor"
	"github.com/banshee-data/hypgraph/internal/lidar/motion"
	"github.com/banshee-data/hypgraph/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/hypgraph/internal/lidar/storage/sqlite"
	"github.com/banshee-data/hypgraph/internal/lidar/visualiser"
	"github.com/banshee-data/hypgraph/internal/version"
)

var (
	configPath      = flag.String("config", "", "Path to a tuning JSON file (defaults to "+config.DefaultConfigPath+" when present)")
	inputPath       = flag.String("input", "-", "JSON-lines hypothesis recording to replay, or - for stdin")
	realtime        = flag.Bool("realtime", false, "Pace replay by the recorded timestamps")
	exitOnEOF       = flag.Bool("exit-on-eof", false, "Exit once the input is drained instead of serving until interrupted")
	dbPath          = flag.String("db", "", "SQLite database path (overrides db_path from the config)")
	noDB            = flag.Bool("no-db", false, "Do not persist tracks")
	publisherListen = flag.String("publisher-listen", "", "gRPC track stream listen address (overrides publisher_listen)")
	noPublisher     = flag.Bool("no-publisher", false, "Disable the gRPC track stream")
	monitorListen   = flag.String("monitor-listen", "", "HTTP monitor listen address (overrides monitor_listen)")
	debugFrames     = flag.Bool("debug", false, "Collect per-frame graph debug records")
	logDiag         = flag.Bool("log-diag", false, "Write diagnostic logs to stderr")
	logTrace        = flag.Bool("log-trace", false, "Write per-edge trace logs to stderr")
	statsInterval   = flag.Duration("stats-interval", 10*time.Second, "Interval between throughput log lines")
	historyRetain   = flag.Duration("history-retention", 24*time.Hour, "How much stored track history to keep; 0 keeps everything")
	recorderFrames  = flag.Int("recorder-frames", 600, "Frames kept in memory for monitor charts")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

// pruneInterval is how often stored history older than -history-retention
// is removed.
const pruneInterval = time.Minute

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	lidar.SetLogWriters(logWriters(os.Stderr, *logDiag, *logTrace))
	log.Printf("[Tracker] starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[Tracker] %v", err)
	}
	log.Printf("[Tracker] shut down")
}

// logWriters always routes the ops stream to w and enables the noisier
// streams on request.
func logWriters(w io.Writer, diag, trace bool) lidar.LogWriters {
	lw := lidar.LogWriters{Ops: w}
	if diag {
		lw.Diag = w
	}
	if trace {
		lw.Trace = w
	}
	return lw
}

// loadConfig reads path, or the canonical defaults file when path is empty.
// A missing defaults file falls back to the built-in defaults.
func loadConfig(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadTuningConfig(config.DefaultConfigPath)
	}
	log.Printf("[Tracker] %s not found, using built-in defaults", config.DefaultConfigPath)
	return config.DefaultTuningConfig(), nil
}

// overrideString returns flagValue when it is set and fallback otherwise.
func overrideString(flagValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	return fallback
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// newGraph builds the tracking graph with the kinematic gate configured from
// cfg.
func newGraph(cfg *config.TuningConfig, dc *debug.DebugCollector) (*l5tracks.NeighborhoodGraph, error) {
	opts := []l5tracks.Option{
		l5tracks.WithKinematicTest(motion.NewGate(motion.GateConfigFromTuning(cfg))),
	}
	if dc != nil {
		opts = append(opts, l5tracks.WithDebugCollector(dc))
	}
	return l5tracks.New(l5tracks.GraphConfigFromTuning(cfg), opts...)
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var dc *debug.DebugCollector
	if *debugFrames {
		dc = debug.NewDebugCollector()
		dc.SetEnabled(true)
	}
	graph, err := newGraph(cfg, dc)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}
	gc := graph.Config()
	log.Printf("[Tracker] graph: max_components=%d max_gap=%s aging=%s retention=%s scoring=%s",
		gc.MaxComponents, gc.MaxTimestampGap, gc.AgingWindow, gc.RetentionWindow, gc.SelectionScoring)

	input, err := openInput(*inputPath)
	if err != nil {
		return err
	}
	defer input.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stats := monitor.NewFrameStats()
	recorder := monitor.NewTrackRecorder(*recorderFrames)
	sinks := []pipeline.TrackSink{stats, recorder, pipeline.TrackSinkFunc(traceFrame)}

	wsConfig := monitor.WebServerConfig{
		Address:  overrideString(*monitorListen, cfg.GetMonitorListen()),
		Graph:    graph,
		Stats:    stats,
		Recorder: recorder,
		Gatherer: reg,
	}

	var (
		trackStore *sqlite.TrackStore
		debugStore *sqlite.DebugStore
	)
	if !*noDB {
		path := overrideString(*dbPath, cfg.GetDBPath())
		database, err := db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", path, err)
		}
		defer database.Close()
		log.Printf("[Tracker] persisting tracks to %s", database.Path())

		trackStore = sqlite.NewTrackStore(database.DB)
		debugStore = sqlite.NewDebugStore(database.DB)
		sinks = append(sinks, trackStore)
		wsConfig.TrackStore = trackStore
		wsConfig.DebugStore = debugStore
		wsConfig.DB = database
	}

	if !*noPublisher {
		publisher := visualiser.NewPublisher(visualiser.Config{
			ListenAddr: overrideString(*publisherListen, cfg.GetPublisherListen()),
			MaxClients: cfg.GetPublisherMaxClients(),
		})
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("failed to start track publisher: %w", err)
		}
		defer publisher.Stop()
		sinks = append(sinks, publisher)
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Source:   l4perception.NewBatchReader(input),
		Tracker:  graph,
		Sinks:    sinks,
		Metrics:  pipeline.NewMetrics(reg),
		Debug:    dc,
		Realtime: *realtime,
		OnDebugFrame: func(f *debug.DebugFrame) {
			recorder.RecordDebugFrame(f)
			if debugStore == nil {
				return
			}
			if err := debugStore.Insert(ctx, f); err != nil {
				lidar.Opsf("failed to store debug frame %d: %v", f.FrameID, err)
			}
		},
	})
	if err != nil {
		return err
	}

	ws := monitor.NewWebServer(wsConfig)

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	// Closing the input unblocks a reader waiting on stdin.
	go func() {
		<-gctx.Done()
		input.Close()
	}()

	g.Go(func() error {
		err := runner.Run(gctx)
		rs := runner.Stats()
		log.Printf("[Tracker] replay finished: %d batches, %d stale, %d sink errors",
			rs.Batches, rs.Stale, rs.SinkErrors)
		if err != nil {
			return err
		}
		if *exitOnEOF {
			stopServing()
		}
		return nil
	})
	g.Go(func() error {
		return ws.Start(serveCtx)
	})
	g.Go(func() error {
		stats.Run(serveCtx, *statsInterval)
		return nil
	})
	if trackStore != nil && *historyRetain > 0 {
		g.Go(func() error {
			pruneHistory(serveCtx, trackStore, graph, *historyRetain)
			return nil
		})
	}

	return g.Wait()
}

// traceFrame writes one line per selected track to the trace stream.
func traceFrame(_ context.Context, frame l5tracks.TrackFrame) error {
	lidar.Tracef("frame %d t=%d: %d tracks", frame.FrameID, frame.TimestampNanos, len(frame.Tracks))
	for _, tr := range frame.Tracks {
		lidar.Tracef("frame %d component %s node %d at (%.2f, %.2f) heading %.2f, %d cliques, %d nodes",
			frame.FrameID, tr.ComponentID, tr.NodeID, tr.Box.X, tr.Box.Y, tr.Box.HeadingRad, tr.CliqueCount, tr.NodeCount)
	}
	return nil
}

// pruneHistory periodically deletes stored frames older than retain,
// measured against the graph's latest batch time.
func pruneHistory(ctx context.Context, store *sqlite.TrackStore, graph *l5tracks.NeighborhoodGraph, retain time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, ok := graph.LastTimestamp()
			if !ok {
				continue
			}
			n, err := store.PruneBefore(ctx, latest-retain.Nanoseconds())
			if err != nil {
				lidar.Opsf("failed to prune track history: %v", err)
				continue
			}
			if n > 0 {
				lidar.Diagf("pruned %d stored frames older than %s", n, retain)
			}
		}
	}
}
