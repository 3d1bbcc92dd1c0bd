package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// EnqueueItem inserts a pending queue item. Duplicate pending items for
// the same feature are permitted here; de-duplication is a caller policy.
func (s *Store) EnqueueItem(repoName, featureKey, cliTool string) (*types.QueueItem, error) {
	now := time.Now().Unix()
	res, err := s.DB.Exec(`
		INSERT INTO queue_items (repo_name, feature_key, status, cli_tool, retry_count, created_at)
		VALUES (?, ?, 'pending', ?, 0, ?)
	`, repoName, featureKey, cliTool, now)
	if err != nil {
		return nil, fmt.Errorf("enqueueing item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading insert id: %w", err)
	}
	return &types.QueueItem{
		ID:         id,
		RepoName:   repoName,
		FeatureKey: featureKey,
		Status:     types.QueuePending,
		CLITool:    cliTool,
		CreatedAt:  now,
	}, nil
}

// ClaimNextItem attempts to atomically claim the oldest pending item.
//
// Uses UPDATE with a status-guarded subquery and RETURNING so the select
// and the mark-running happen as one operation: two concurrent callers
// never both receive the same item. Returns nil when nothing is pending.
func (s *Store) ClaimNextItem(workerHandle string) (*types.QueueItem, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	var item types.QueueItem
	var cliTool, handle sql.NullString
	err = tx.QueryRow(`
		UPDATE queue_items
		SET status = 'running',
		    worker_handle = ?,
		    started_at = ?
		WHERE id = (
			SELECT id FROM queue_items
			WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) AND status = 'pending'
		RETURNING id, repo_name, feature_key, status, cli_tool, worker_handle,
		          retry_count, created_at, started_at
	`, workerHandle, now).Scan(&item.ID, &item.RepoName, &item.FeatureKey,
		&item.Status, &cliTool, &handle, &item.RetryCount, &item.CreatedAt, &item.StartedAt)

	if err == sql.ErrNoRows {
		// Nothing pending, or another worker claimed the last pending item
		// between the subquery read and the guarded update. Either way
		// there is no work.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming item: %w", err)
	}

	item.CLITool = cliTool.String
	item.WorkerHandle = handle.String

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &item, nil
}

// CompleteItem marks a running item completed
func (s *Store) CompleteItem(id int64) error {
	return s.transitionItem("db.completeItem", id, types.QueueRunning, `
		UPDATE queue_items
		SET status = 'completed', completed_at = ?
		WHERE id = ? AND status = 'running'
	`, time.Now().Unix(), id)
}

// FailItem marks a running item failed with the given message
func (s *Store) FailItem(id int64, message string) error {
	return s.transitionItem("db.failItem", id, types.QueueRunning, `
		UPDATE queue_items
		SET status = 'failed', completed_at = ?, error_message = ?
		WHERE id = ? AND status = 'running'
	`, time.Now().Unix(), message, id)
}

// ReenqueueItem resets a failed item to pending and bumps its retry
// count. RetryCount is bookkeeping for caller-side backoff policy; no
// automatic retry happens here.
func (s *Store) ReenqueueItem(id int64) error {
	return s.transitionItem("db.reenqueueItem", id, types.QueueFailed, `
		UPDATE queue_items
		SET status = 'pending', retry_count = retry_count + 1,
		    worker_handle = NULL, started_at = NULL, completed_at = NULL,
		    error_message = NULL
		WHERE id = ? AND status = 'failed'
	`, id)
}

// CancelItem hard-deletes a pending item. Claimed work cannot be
// cancelled through the normal API.
func (s *Store) CancelItem(id int64) error {
	res, err := s.DB.Exec(`
		DELETE FROM queue_items WHERE id = ? AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("cancelling item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if affected == 0 {
		return s.itemStateError("db.cancelItem", id, types.QueuePending)
	}
	return nil
}

// PruneItems hard-deletes completed and failed items whose completion
// predates the cutoff. Pending and running items are never touched,
// regardless of age.
func (s *Store) PruneItems(cutoff int64) (int, error) {
	res, err := s.DB.Exec(`
		DELETE FROM queue_items
		WHERE status IN ('completed', 'failed') AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting affected rows: %w", err)
	}
	return int(affected), nil
}

// GetQueueItem retrieves a queue item by id
func (s *Store) GetQueueItem(id int64) (*types.QueueItem, error) {
	row := s.DB.QueryRow(`
		SELECT id, repo_name, feature_key, status, cli_tool, worker_handle,
		       retry_count, created_at, started_at, completed_at, error_message
		FROM queue_items WHERE id = ?
	`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "db.getQueueItem", "queue item %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying queue item: %w", err)
	}
	return item, nil
}

// ListQueueItems returns items, optionally filtered by status, newest first
func (s *Store) ListQueueItems(status types.QueueItemStatus) ([]*types.QueueItem, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.DB.Query(`
			SELECT id, repo_name, feature_key, status, cli_tool, worker_handle,
			       retry_count, created_at, started_at, completed_at, error_message
			FROM queue_items WHERE status = ? ORDER BY created_at DESC, id DESC
		`, status)
	} else {
		rows, err = s.DB.Query(`
			SELECT id, repo_name, feature_key, status, cli_tool, worker_handle,
			       retry_count, created_at, started_at, completed_at, error_message
			FROM queue_items ORDER BY created_at DESC, id DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("querying queue items: %w", err)
	}
	defer rows.Close()

	var items []*types.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// HasActiveItem reports whether the feature already has a pending or
// running item. Used by the caller-side admission policy.
func (s *Store) HasActiveItem(featureKey string) (bool, error) {
	var count int
	err := s.DB.QueryRow(`
		SELECT COUNT(*) FROM queue_items
		WHERE feature_key = ? AND status IN ('pending', 'running')
	`, featureKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking active items: %w", err)
	}
	return count > 0, nil
}

// QueueStats returns item counts by status
func (s *Store) QueueStats() (*types.QueueStats, error) {
	rows, err := s.DB.Query(`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying queue stats: %w", err)
	}
	defer rows.Close()

	stats := &types.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		switch types.QueueItemStatus(status) {
		case types.QueuePending:
			stats.Pending = count
		case types.QueueRunning:
			stats.Running = count
		case types.QueueCompleted:
			stats.Completed = count
		case types.QueueFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*types.QueueItem, error) {
	var item types.QueueItem
	var cliTool, handle, errMsg sql.NullString
	var startedAt, completedAt sql.NullInt64
	err := row.Scan(&item.ID, &item.RepoName, &item.FeatureKey, &item.Status,
		&cliTool, &handle, &item.RetryCount, &item.CreatedAt,
		&startedAt, &completedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	item.CLITool = cliTool.String
	item.WorkerHandle = handle.String
	item.ErrorMessage = errMsg.String
	if startedAt.Valid {
		v := startedAt.Int64
		item.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		item.CompletedAt = &v
	}
	return &item, nil
}

// transitionItem runs a status-guarded update and maps a zero-row result
// to NotFound or InvalidState depending on whether the item exists.
func (s *Store) transitionItem(op string, id int64, want types.QueueItemStatus, query string, args ...any) error {
	res, err := s.DB.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if affected == 0 {
		return s.itemStateError(op, id, want)
	}
	return nil
}

func (s *Store) itemStateError(op string, id int64, want types.QueueItemStatus) error {
	var status string
	err := s.DB.QueryRow(`SELECT status FROM queue_items WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return types.NewError(types.KindNotFound, op, "queue item %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("checking item state: %w", err)
	}
	return types.NewError(types.KindInvalidState, op,
		"queue item %d is %s, expected %s", id, status, want)
}
