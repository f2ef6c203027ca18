// Package monitor serves the tracker's HTTP interface: health and status,
// JSON views of the hypothesis graph, debug charts and Prometheus metrics.
package monitor

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/hypgraph/internal/db"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
	sqlite "github.com/banshee-data/hypgraph/internal/lidar/storage/sqlite"
	"github.com/banshee-data/hypgraph/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

const defaultHistoryLimit = 100

// GraphSource is the read side of the tracking graph.
type GraphSource interface {
	Snapshot() *l5tracks.Snapshot
	CheckInvariants() error
}

// WebServer handles the HTTP interface for monitoring the tracker.
type WebServer struct {
	address  string
	server   *http.Server
	graph    GraphSource
	stats    *FrameStats
	recorder *TrackRecorder
	tracks   *sqlite.TrackStore
	debug    *sqlite.DebugStore
	db       *db.DB
	gatherer prometheus.Gatherer
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address  string
	Graph    GraphSource
	Stats    *FrameStats    // Optional
	Recorder *TrackRecorder // Optional; backs the charts and trail plot

	// Persistent history. Optional.
	TrackStore *sqlite.TrackStore
	DebugStore *sqlite.DebugStore
	DB         *db.DB // Mounts /debug/ admin routes when set

	Gatherer prometheus.Gatherer // Serves /metrics when set
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:  config.Address,
		graph:    config.Graph,
		stats:    config.Stats,
		recorder: config.Recorder,
		tracks:   config.TrackStore,
		debug:    config.DebugStore,
		db:       config.DB,
		gatherer: config.Gatherer,
	}
	if ws.stats == nil {
		ws.stats = NewFrameStats()
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the root handler, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("monitor: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/components", ws.handleComponents)
	mux.HandleFunc("/api/graph/check", ws.handleGraphCheck)
	mux.HandleFunc("/api/history/components", ws.handleHistoryComponents)
	mux.HandleFunc("/api/debug/frame", ws.handleDebugFrame)
	mux.HandleFunc("/debug/charts/components", ws.handleComponentChart)
	mux.HandleFunc("/debug/charts/tracks", ws.handleTrackChart)
	mux.HandleFunc("/debug/plot/trails.png", ws.handleTrailPlot)

	if ws.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))
	}
	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			log.Printf("monitor: admin routes disabled: %v", err)
		}
	}
	return mux
}

func (ws *WebServer) snapshot() *l5tracks.Snapshot {
	if ws.graph == nil {
		return &l5tracks.Snapshot{}
	}
	if s := ws.graph.Snapshot(); s != nil {
		return s
	}
	return &l5tracks.Snapshot{}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := ws.snapshot()
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime":     ws.stats.GetUptime().Round(time.Second).String(),
		"frame_id":   snap.FrameID,
		"components": snap.Len(),
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap := ws.snapshot()
	data := struct {
		Version     string
		Uptime      string
		FrameID     uint64
		Components  int
		Nodes       int
		TotalFrames int64
		Rates       *StatsSnapshot
	}{
		Version:     version.String(),
		Uptime:      ws.stats.GetUptime().Round(time.Second).String(),
		FrameID:     snap.FrameID,
		Components:  snap.Len(),
		Nodes:       snap.NodeCount,
		TotalFrames: ws.stats.TotalFrames(),
		Rates:       ws.stats.GetLatestSnapshot(),
	}

	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, data); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render status: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := ws.snapshot()
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"frame_id":     snap.FrameID,
		"components":   snap.Len(),
		"nodes":        snap.NodeCount,
		"total_frames": ws.stats.TotalFrames(),
		"rates":        ws.stats.GetLatestSnapshot(),
	})
}

// handleTracks returns the selected track of every component.
func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.writeJSON(w, http.StatusOK, ws.snapshot().Tracks())
}

// handleComponents returns the components of the latest snapshot.
// Query params:
//
//	index (optional) - return a single component by traversal index
func (ws *WebServer) handleComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap := ws.snapshot()

	idx := r.URL.Query().Get("index")
	if idx == "" {
		ws.writeJSON(w, http.StatusOK, snap)
		return
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "invalid 'index' parameter")
		return
	}
	c, err := snap.Component(i)
	if err != nil {
		if errors.Is(err, l5tracks.ErrIndexOutOfRange) {
			ws.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, http.StatusOK, c)
}

// handleGraphCheck runs the structural invariant checker on the live graph.
func (ws *WebServer) handleGraphCheck(w http.ResponseWriter, r *http.Request) {
	if ws.graph == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no graph attached")
		return
	}
	if err := ws.graph.CheckInvariants(); err != nil {
		ws.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// handleHistoryComponents lists stored components, or the observations of
// one component.
// Query params:
//
//	id (optional) - component UUID
//	limit (optional; default 100)
func (ws *WebServer) handleHistoryComponents(w http.ResponseWriter, r *http.Request) {
	if ws.tracks == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no track store configured")
		return
	}
	q := r.URL.Query()

	if id := q.Get("id"); id != "" {
		componentID, err := uuid.Parse(id)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'id' parameter")
			return
		}
		history, err := ws.tracks.ComponentHistory(r.Context(), componentID)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("component history: %v", err))
			return
		}
		if len(history) == 0 {
			ws.writeJSONError(w, http.StatusNotFound, "component not found")
			return
		}
		ws.writeJSON(w, http.StatusOK, history)
		return
	}

	limit := defaultHistoryLimit
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}
	comps, err := ws.tracks.Components(r.Context(), limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list components: %v", err))
		return
	}
	if comps == nil {
		comps = []sqlite.ComponentSummary{}
	}
	ws.writeJSON(w, http.StatusOK, comps)
}

// handleDebugFrame returns a debug frame.
// Query params:
//
//	frame_id (optional) - stored frame; defaults to the latest emitted frame
func (ws *WebServer) handleDebugFrame(w http.ResponseWriter, r *http.Request) {
	if fid := r.URL.Query().Get("frame_id"); fid != "" {
		id, err := strconv.ParseUint(fid, 10, 64)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'frame_id' parameter")
			return
		}
		if ws.debug == nil {
			ws.writeJSONError(w, http.StatusServiceUnavailable, "no debug store configured")
			return
		}
		frame, err := ws.debug.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, sqlite.ErrNotFound) {
				ws.writeJSONError(w, http.StatusNotFound, err.Error())
				return
			}
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ws.writeJSON(w, http.StatusOK, frame)
		return
	}

	if ws.recorder != nil {
		if frame := ws.recorder.LastDebugFrame(); frame != nil {
			ws.writeJSON(w, http.StatusOK, frame)
			return
		}
	}
	if ws.debug != nil {
		frame, err := ws.debug.Latest(r.Context())
		if err == nil {
			ws.writeJSON(w, http.StatusOK, frame)
			return
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	ws.writeJSONError(w, http.StatusNotFound, "no debug frame recorded (is -debug enabled?)")
}

func (ws *WebServer) handleComponentChart(w http.ResponseWriter, r *http.Request) {
	if ws.recorder == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no recorder configured")
		return
	}
	summaries := ws.recorder.Summaries()
	subtitle := fmt.Sprintf("last %d frames", len(summaries))

	var buf bytes.Buffer
	if err := ComponentChart(summaries, subtitle).Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleTrackChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := TrackScatter(ws.snapshot().Tracks()).Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleTrailPlot(w http.ResponseWriter, r *http.Request) {
	if ws.recorder == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no recorder configured")
		return
	}
	frames := ws.recorder.Frames()
	title := fmt.Sprintf("Selected track trails (%d frames)", len(frames))

	var buf bytes.Buffer
	if err := WriteTrailPNG(&buf, frames, title); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
