package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// SaveCheckpoint persists a checkpoint, assigning the next id within its
// feature.
//
// The MAX(id)+1 is computed inside the insert itself, so the allocation
// and the write are one atomic statement: concurrent savers on separate
// connections serialize on the write lock instead of racing to a primary
// key conflict.
func (s *Store) SaveCheckpoint(cp *types.Checkpoint) (int64, error) {
	snapshot, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}

	var id int64
	err = s.DB.QueryRow(`
		INSERT INTO checkpoints (feature_key, id, description, created_at, snapshot)
		VALUES (?, (SELECT COALESCE(MAX(id), 0) + 1 FROM checkpoints WHERE feature_key = ?), ?, ?, ?)
		RETURNING id
	`, cp.FeatureKey, cp.FeatureKey, cp.Description, cp.CreatedAt, string(snapshot)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving checkpoint: %w", err)
	}
	return id, nil
}

// GetCheckpoint retrieves one checkpoint of a feature
func (s *Store) GetCheckpoint(featureKey string, id int64) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{FeatureKey: featureKey}
	var snapshot string
	err := s.DB.QueryRow(`
		SELECT id, COALESCE(description, ''), created_at, snapshot
		FROM checkpoints WHERE feature_key = ? AND id = ?
	`, featureKey, id).Scan(&cp.ID, &cp.Description, &cp.CreatedAt, &snapshot)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "db.getCheckpoint",
			"checkpoint %d not found for feature %s", id, featureKey)
	}
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &cp.Snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a feature's checkpoints, newest first
func (s *Store) ListCheckpoints(featureKey string) ([]*types.Checkpoint, error) {
	rows, err := s.DB.Query(`
		SELECT id, COALESCE(description, ''), created_at, snapshot
		FROM checkpoints WHERE feature_key = ?
		ORDER BY id DESC
	`, featureKey)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*types.Checkpoint
	for rows.Next() {
		cp := &types.Checkpoint{FeatureKey: featureKey}
		var snapshot string
		if err := rows.Scan(&cp.ID, &cp.Description, &cp.CreatedAt, &snapshot); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &cp.Snapshot); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}
