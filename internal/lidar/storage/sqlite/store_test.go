package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hypgraph/internal/db"
	"github.com/banshee-data/hypgraph/internal/lidar/debug"
	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

// setupTestDB opens a migrated database in a temp dir.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d.DB
}

var (
	carID  = uuid.MustParse("11111111-2222-4333-8444-555555555555")
	walkID = uuid.MustParse("66666666-7777-4888-9999-aaaaaaaaaaaa")
)

func track(id uuid.UUID, node l5tracks.NodeID, x float64, ts int64, nodes int) l5tracks.SelectedTrack {
	return l5tracks.SelectedTrack{
		ComponentID: id,
		NodeID:      node,
		CliqueCount: 1,
		NodeCount:   nodes,
		Box: l4perception.BoxModel{
			ClusterID: int64(node), SensorID: "hesai-01",
			X: x, Y: 2, HeadingRad: 0.1,
			Length: 4.5, Width: 1.8, Height: 1.5,
			Confidence: 0.75, TimestampNanos: ts,
		},
	}
}

func TestTrackStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewTrackStore(setupTestDB(t))
	ctx := context.Background()

	frames := []l5tracks.TrackFrame{
		{FrameID: 1, TimestampNanos: 100, Tracks: []l5tracks.SelectedTrack{track(carID, 1, 0, 100, 1)}},
		{FrameID: 2, TimestampNanos: 200, Tracks: []l5tracks.SelectedTrack{
			track(carID, 3, 1, 200, 2),
			track(walkID, 4, 30, 200, 1),
		}},
		{FrameID: 3, TimestampNanos: 300, Tracks: []l5tracks.SelectedTrack{}},
	}
	for _, f := range frames {
		require.NoError(t, store.ConsumeTracks(ctx, f))
	}

	recent, err := store.RecentFrames(ctx, 2)
	require.NoError(t, err)
	want := []l5tracks.TrackFrame{frames[2], frames[1]}
	if diff := cmp.Diff(want, recent); diff != "" {
		t.Errorf("RecentFrames mismatch (-want +got):\n%s", diff)
	}

	history, err := store.ComponentHistory(ctx, carID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].FrameID)
	assert.Equal(t, int64(200), history[1].TimestampNanos)
	assert.Equal(t, 1.0, history[1].Track.Box.X)

	comps, err := store.Components(ctx, 10)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	// Both were last seen at 200; ties order by id.
	assert.Equal(t, carID, comps[0].ComponentID)
	assert.Equal(t, ComponentSummary{
		ComponentID: carID, FirstSeenNanos: 100, LastSeenNanos: 200, Observations: 2, MaxNodeCount: 2,
	}, comps[0])
}

func TestTrackStoreReplacesFrame(t *testing.T) {
	t.Parallel()

	store := NewTrackStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.ConsumeTracks(ctx, l5tracks.TrackFrame{
		FrameID: 5, TimestampNanos: 500,
		Tracks: []l5tracks.SelectedTrack{track(carID, 1, 0, 500, 1), track(walkID, 2, 9, 500, 1)},
	}))
	require.NoError(t, store.ConsumeTracks(ctx, l5tracks.TrackFrame{
		FrameID: 5, TimestampNanos: 500,
		Tracks: []l5tracks.SelectedTrack{track(carID, 1, 0, 500, 1)},
	}))

	recent, err := store.RecentFrames(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Len(t, recent[0].Tracks, 1)
}

func TestTrackStorePruneCascades(t *testing.T) {
	t.Parallel()

	sqlDB := setupTestDB(t)
	store := NewTrackStore(sqlDB)
	ctx := context.Background()

	for i, ts := range []int64{100, 200, 300} {
		require.NoError(t, store.ConsumeTracks(ctx, l5tracks.TrackFrame{
			FrameID: uint64(i + 1), TimestampNanos: ts,
			Tracks: []l5tracks.SelectedTrack{track(carID, l5tracks.NodeID(i+1), float64(i), ts, i+1)},
		}))
	}

	n, err := store.PruneBefore(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var remaining int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM track_observations`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestRecentFramesEmpty(t *testing.T) {
	t.Parallel()

	store := NewTrackStore(setupTestDB(t))
	frames, err := store.RecentFrames(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = store.RecentFrames(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, frames)
}

func TestDebugStore(t *testing.T) {
	t.Parallel()

	store := NewDebugStore(setupTestDB(t))
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	quiet := &debug.DebugFrame{
		FrameID: 1,
		Compatibility: []debug.CompatibilityRecord{
			{ParentID: 1, ChildID: 2, DtSeconds: 0.1, Compatible: true},
		},
	}
	busy := &debug.DebugFrame{
		FrameID: 2,
		Merges:  []debug.MergeRecord{{Survivor: carID, Absorbed: walkID}},
		Aged:    []debug.AgingRecord{{NodeID: 1, TimestampNanos: 100, Retention: true}},
	}
	require.NoError(t, store.Insert(ctx, quiet))
	require.NoError(t, store.Insert(ctx, busy))
	require.NoError(t, store.Insert(ctx, nil))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(quiet, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.FrameID)
	assert.Equal(t, carID, latest.Merges[0].Survivor)

	ids, err := store.RestructuringFrames(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)

	_, err = store.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("constraint failed")
	err = retryOnBusy(func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}
