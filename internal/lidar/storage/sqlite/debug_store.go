package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/hypgraph/internal/lidar/debug"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// DebugStore persists emitted debug frames for offline inspection.
type DebugStore struct {
	db *sql.DB
}

// NewDebugStore creates a new DebugStore.
func NewDebugStore(db *sql.DB) *DebugStore {
	return &DebugStore{db: db}
}

// Insert stores a debug frame, replacing any frame with the same id.
func (s *DebugStore) Insert(ctx context.Context, frame *debug.DebugFrame) error {
	if frame == nil {
		return nil
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal debug frame %d: %w", frame.FrameID, err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO debug_frames (frame_id, merges, splits, evictions, aged, payload_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			int64(frame.FrameID), len(frame.Merges), len(frame.Splits), len(frame.Evictions), len(frame.Aged), string(payload),
		)
		return err
	})
}

// Get returns the debug frame with the given id.
func (s *DebugStore) Get(ctx context.Context, frameID uint64) (*debug.DebugFrame, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM debug_frames WHERE frame_id = ?`, int64(frameID)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("debug frame %d: %w", frameID, ErrNotFound)
		}
		return nil, fmt.Errorf("query debug frame %d: %w", frameID, err)
	}
	var frame debug.DebugFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return nil, fmt.Errorf("decode debug frame %d: %w", frameID, err)
	}
	return &frame, nil
}

// Latest returns the newest stored debug frame.
func (s *DebugStore) Latest(ctx context.Context) (*debug.DebugFrame, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT frame_id FROM debug_frames ORDER BY frame_id DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("latest debug frame: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("query latest debug frame: %w", err)
	}
	return s.Get(ctx, uint64(id))
}

// RestructuringFrames lists the ids of frames that restructured at least
// one component, newest first.
func (s *DebugStore) RestructuringFrames(ctx context.Context, limit int) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_id FROM debug_frames
		WHERE merges > 0 OR splits > 0 OR evictions > 0
		ORDER BY frame_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query debug frames: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan debug frame id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}
