package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

// TrackObservation is one selected track as recorded for a frame.
type TrackObservation struct {
	FrameID        uint64                 `json:"frame_id"`
	TimestampNanos int64                  `json:"timestamp_nanos"`
	Track          l5tracks.SelectedTrack `json:"track"`
}

// ComponentSummary aggregates the stored history of one component.
type ComponentSummary struct {
	ComponentID    uuid.UUID `json:"component_id"`
	FirstSeenNanos int64     `json:"first_seen_nanos"`
	LastSeenNanos  int64     `json:"last_seen_nanos"`
	Observations   int       `json:"observations"`
	MaxNodeCount   int       `json:"max_node_count"`
}

// TrackStore persists the selected tracks of every frame. It is a
// pipeline sink.
type TrackStore struct {
	db *sql.DB
}

// NewTrackStore creates a new TrackStore.
func NewTrackStore(db *sql.DB) *TrackStore {
	return &TrackStore{db: db}
}

// ConsumeTracks records a frame and its tracks in one transaction. A frame
// id already present is replaced.
func (s *TrackStore) ConsumeTracks(ctx context.Context, frame l5tracks.TrackFrame) error {
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM track_frames WHERE frame_id = ?`, int64(frame.FrameID)); err != nil {
			return fmt.Errorf("replace frame %d: %w", frame.FrameID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO track_frames (frame_id, timestamp_nanos, track_count)
			VALUES (?, ?, ?)`,
			int64(frame.FrameID), frame.TimestampNanos, len(frame.Tracks),
		); err != nil {
			return fmt.Errorf("insert frame %d: %w", frame.FrameID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO track_observations (
				frame_id, component_id, node_id, cluster_id, sensor_id,
				x, y, heading, length, width, height, confidence,
				timestamp_nanos, clique_count, node_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare observation insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range frame.Tracks {
			b := t.Box
			if _, err := stmt.ExecContext(ctx,
				int64(frame.FrameID), t.ComponentID.String(), int64(t.NodeID), b.ClusterID, b.SensorID,
				b.X, b.Y, b.HeadingRad, b.Length, b.Width, b.Height, b.Confidence,
				b.TimestampNanos, t.CliqueCount, t.NodeCount,
			); err != nil {
				return fmt.Errorf("insert track %s: %w", t.ComponentID, err)
			}
		}
		return tx.Commit()
	})
}

const observationColumns = `
	o.frame_id, f.timestamp_nanos, o.component_id, o.node_id, o.cluster_id, o.sensor_id,
	o.x, o.y, o.heading, o.length, o.width, o.height, o.confidence,
	o.timestamp_nanos, o.clique_count, o.node_count`

func scanObservation(rows *sql.Rows) (TrackObservation, error) {
	var (
		o           TrackObservation
		frameID     int64
		componentID string
		nodeID      int64
		clusterID   sql.NullInt64
		sensorID    sql.NullString
		confidence  sql.NullFloat64
	)
	b := &o.Track.Box
	if err := rows.Scan(
		&frameID, &o.TimestampNanos, &componentID, &nodeID, &clusterID, &sensorID,
		&b.X, &b.Y, &b.HeadingRad, &b.Length, &b.Width, &b.Height, &confidence,
		&b.TimestampNanos, &o.Track.CliqueCount, &o.Track.NodeCount,
	); err != nil {
		return o, fmt.Errorf("scan observation: %w", err)
	}
	id, err := uuid.Parse(componentID)
	if err != nil {
		return o, fmt.Errorf("parse component id %q: %w", componentID, err)
	}
	o.FrameID = uint64(frameID)
	o.Track.ComponentID = id
	o.Track.NodeID = l5tracks.NodeID(nodeID)
	b.ClusterID = clusterID.Int64
	b.SensorID = sensorID.String
	b.Confidence = confidence.Float64
	return o, nil
}

// ComponentHistory returns every stored observation of a component,
// oldest first.
func (s *TrackStore) ComponentHistory(ctx context.Context, componentID uuid.UUID) ([]TrackObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+`
		FROM track_observations o
		JOIN track_frames f ON f.frame_id = o.frame_id
		WHERE o.component_id = ?
		ORDER BY o.timestamp_nanos ASC, o.frame_id ASC`, componentID.String())
	if err != nil {
		return nil, fmt.Errorf("query component history: %w", err)
	}
	defer rows.Close()

	var out []TrackObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentFrames returns up to limit frames, newest first, with their tracks.
func (s *TrackStore) RecentFrames(ctx context.Context, limit int) ([]l5tracks.TrackFrame, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_id, timestamp_nanos FROM track_frames
		ORDER BY frame_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	var frames []l5tracks.TrackFrame
	index := make(map[uint64]int)
	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		index[uint64(id)] = len(frames)
		frames = append(frames, l5tracks.TrackFrame{FrameID: uint64(id), TimestampNanos: ts, Tracks: []l5tracks.SelectedTrack{}})
	}
	// The pool holds a single connection; release it before the next query.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}

	oldest := frames[len(frames)-1].FrameID
	obs, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+`
		FROM track_observations o
		JOIN track_frames f ON f.frame_id = o.frame_id
		WHERE o.frame_id >= ?
		ORDER BY o.frame_id DESC, o.rowid ASC`, int64(oldest))
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer obs.Close()
	for obs.Next() {
		o, err := scanObservation(obs)
		if err != nil {
			return nil, err
		}
		if i, ok := index[o.FrameID]; ok {
			frames[i].Tracks = append(frames[i].Tracks, o.Track)
		}
	}
	return frames, obs.Err()
}

// Components summarises stored components, most recently seen first.
func (s *TrackStore) Components(ctx context.Context, limit int) ([]ComponentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT component_id, MIN(timestamp_nanos), MAX(timestamp_nanos), COUNT(*), MAX(node_count)
		FROM track_observations
		GROUP BY component_id
		ORDER BY MAX(timestamp_nanos) DESC, component_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	var out []ComponentSummary
	for rows.Next() {
		var (
			c  ComponentSummary
			id string
		)
		if err := rows.Scan(&id, &c.FirstSeenNanos, &c.LastSeenNanos, &c.Observations, &c.MaxNodeCount); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		if c.ComponentID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse component id %q: %w", id, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneBefore deletes frames older than cutoffNanos along with their
// observations and returns the number of frames removed.
func (s *TrackStore) PruneBefore(ctx context.Context, cutoffNanos int64) (int64, error) {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM track_frames WHERE timestamp_nanos < ?`, cutoffNanos)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune frames: %w", err)
	}
	return n, nil
}
