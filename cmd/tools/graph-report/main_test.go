package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
)

const tenth = int64(100_000_000)

func writeRecording(t *testing.T, batches []l4perception.Batch) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, b := range batches {
		require.NoError(t, l4perception.WriteBatch(f, b))
	}
	return path
}

func car(x, y float64, ts int64) l4perception.BoxModel {
	return l4perception.BoxModel{X: x, Y: y, Length: 4.5, Width: 1.8, Height: 1.5, Confidence: 0.9, TimestampNanos: ts}
}

func TestRunReportWritesOutputs(t *testing.T) {
	t.Parallel()

	var batches []l4perception.Batch
	for i := int64(0); i < 10; i++ {
		batches = append(batches, l4perception.Batch{
			TimestampNanos: i * tenth,
			Hypotheses:     []l4perception.BoxModel{car(float64(i), 0, i*tenth), car(40+float64(i), 10, i*tenth)},
		})
	}
	// A batch older than the last one is discarded.
	batches = append(batches, l4perception.Batch{TimestampNanos: 5 * tenth, Hypotheses: []l4perception.BoxModel{car(0, 0, 5*tenth)}})

	out := t.TempDir()
	cfg := Config{InputFile: writeRecording(t, batches), OutputDir: out, MaxFrames: 100, Check: true}
	result, err := runReport(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), result.Batches)
	assert.Equal(t, uint64(1), result.StaleBatches)
	assert.Equal(t, 10, result.Frames)
	assert.Equal(t, 9*tenth, result.SpanNanos)
	assert.Equal(t, 2, result.MaxComponents)
	assert.Equal(t, 20, result.MaxNodes)
	assert.Zero(t, result.InvariantErrors)

	for _, name := range []string{"report.html", "trails.png", "summary.json"} {
		info, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}

	data, err := os.ReadFile(filepath.Join(out, "summary.json"))
	require.NoError(t, err)
	var decoded ReportResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, result.Frames, decoded.Frames)
}

func TestRunReportMissingInput(t *testing.T) {
	t.Parallel()

	_, err := runReport(context.Background(), Config{InputFile: filepath.Join(t.TempDir(), "nope.jsonl"), OutputDir: t.TempDir()})
	assert.Error(t, err)
}

func TestRunReportBadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_components": 0}`), 0o644))
	_, err := runReport(context.Background(), Config{InputFile: writeRecording(t, nil), ConfigFile: path, OutputDir: t.TempDir()})
	assert.Error(t, err)
}
