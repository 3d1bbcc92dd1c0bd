// Package db handles database operations for Stagehand
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// Store manages database operations. It is the durable storage
// collaborator: a saved task set is atomically visible to subsequent
// loads, and the queue claim executes as a single conditional update.
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- Features group related tasks
	CREATE TABLE IF NOT EXISTS features (
		key TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL
	);

	-- Tasks are the unit of work, scoped to a feature
	CREATE TABLE IF NOT EXISTS tasks (
		feature_key TEXT NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		order_of_execution INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (feature_key, id),
		FOREIGN KEY (feature_key) REFERENCES features(key) ON DELETE CASCADE
	);

	-- Dependencies within a feature (task depends on prerequisite)
	CREATE TABLE IF NOT EXISTS task_dependencies (
		feature_key TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		PRIMARY KEY (feature_key, task_id, depends_on),
		FOREIGN KEY (feature_key, task_id) REFERENCES tasks(feature_key, id) ON DELETE CASCADE
	);

	-- Append-only transition history per task
	CREATE TABLE IF NOT EXISTS transitions (
		feature_key TEXT NOT NULL,
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		notes TEXT,
		meta TEXT,
		PRIMARY KEY (feature_key, task_id, seq),
		FOREIGN KEY (feature_key, task_id) REFERENCES tasks(feature_key, id) ON DELETE CASCADE
	);

	-- Stakeholder reviews, one row per role per task
	CREATE TABLE IF NOT EXISTS reviews (
		feature_key TEXT NOT NULL,
		task_id TEXT NOT NULL,
		role TEXT NOT NULL,
		decision TEXT NOT NULL,
		notes TEXT,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (feature_key, task_id, role),
		FOREIGN KEY (feature_key, task_id) REFERENCES tasks(feature_key, id) ON DELETE CASCADE
	);

	-- Checkpoints snapshot task statuses, ids monotonic per feature
	CREATE TABLE IF NOT EXISTS checkpoints (
		feature_key TEXT NOT NULL,
		id INTEGER NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		PRIMARY KEY (feature_key, id)
	);

	-- Queue items drive unattended feature processing
	CREATE TABLE IF NOT EXISTS queue_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_name TEXT NOT NULL,
		feature_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		cli_tool TEXT,
		worker_handle TEXT,
		retry_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		error_message TEXT
	);

	-- Simple key-value settings
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(feature_key, status);
	CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON task_dependencies(feature_key, depends_on);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_feature ON queue_items(feature_key);
	`

	_, err := s.DB.Exec(schema)
	return err
}

// CreateFeature registers a new feature
func (s *Store) CreateFeature(key, title, description string) (*types.Feature, error) {
	now := time.Now().Unix()
	f := &types.Feature{
		Key:         key,
		Title:       title,
		Description: description,
		CreatedAt:   now,
	}
	_, err := s.DB.Exec(`
		INSERT INTO features (key, title, description, created_at)
		VALUES (?, ?, ?, ?)
	`, f.Key, f.Title, f.Description, f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating feature: %w", err)
	}
	return f, nil
}

// querier is the read surface shared by *sql.DB and *sql.Tx
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// GetFeature retrieves a feature by key
func (s *Store) GetFeature(key string) (*types.Feature, error) {
	return getFeature(s.DB, key)
}

func getFeature(q querier, key string) (*types.Feature, error) {
	var f types.Feature
	var description sql.NullString
	err := q.QueryRow(`
		SELECT key, title, COALESCE(description, ''), created_at
		FROM features WHERE key = ?
	`, key).Scan(&f.Key, &f.Title, &description, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "db.getFeature", "feature %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying feature: %w", err)
	}
	f.Description = description.String
	return &f, nil
}

// ListFeatures returns all features ordered by creation time
func (s *Store) ListFeatures() ([]*types.Feature, error) {
	rows, err := s.DB.Query(`
		SELECT key, title, COALESCE(description, ''), created_at
		FROM features ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying features: %w", err)
	}
	defer rows.Close()

	var features []*types.Feature
	for rows.Next() {
		var f types.Feature
		var description sql.NullString
		if err := rows.Scan(&f.Key, &f.Title, &description, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning feature: %w", err)
		}
		f.Description = description.String
		features = append(features, &f)
	}
	return features, rows.Err()
}

// LoadTaskSet loads a feature's full task aggregate: tasks, dependencies,
// transition history, and reviews. All reads share one transaction, so a
// concurrent SaveTaskSet commit is observed fully or not at all.
func (s *Store) LoadTaskSet(featureKey string) (*types.TaskSet, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning read transaction: %w", err)
	}
	// Read-only transaction; rollback releases the snapshot.
	defer tx.Rollback()

	if _, err := getFeature(tx, featureKey); err != nil {
		return nil, err
	}

	ts := &types.TaskSet{FeatureKey: featureKey}
	byID := make(map[string]*types.Task)

	rows, err := tx.Query(`
		SELECT id, title, COALESCE(description, ''), status, order_of_execution,
		       created_at, updated_at
		FROM tasks
		WHERE feature_key = ?
		ORDER BY order_of_execution ASC, created_at ASC
	`, featureKey)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &types.Task{FeatureKey: featureKey}
		var description sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &description, &t.Status,
			&t.OrderOfExecution, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.Description = description.String
		ts.Tasks = append(ts.Tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadDependencies(tx, featureKey, byID); err != nil {
		return nil, err
	}
	if err := loadTransitions(tx, featureKey, byID); err != nil {
		return nil, err
	}
	if err := loadReviews(tx, featureKey, byID); err != nil {
		return nil, err
	}
	return ts, nil
}

func loadDependencies(q querier, featureKey string, byID map[string]*types.Task) error {
	rows, err := q.Query(`
		SELECT task_id, depends_on
		FROM task_dependencies
		WHERE feature_key = ?
		ORDER BY task_id, depends_on
	`, featureKey)
	if err != nil {
		return fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, dependsOn string
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			return fmt.Errorf("scanning dependency: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.Dependencies = append(t.Dependencies, dependsOn)
		}
	}
	return rows.Err()
}

func loadTransitions(q querier, featureKey string, byID map[string]*types.Task) error {
	rows, err := q.Query(`
		SELECT task_id, from_status, to_status, actor, timestamp,
		       COALESCE(notes, ''), COALESCE(meta, '')
		FROM transitions
		WHERE feature_key = ?
		ORDER BY task_id, seq ASC
	`, featureKey)
	if err != nil {
		return fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, metaJSON string
		var tr types.Transition
		if err := rows.Scan(&taskID, &tr.From, &tr.To, &tr.Actor,
			&tr.Timestamp, &tr.Notes, &metaJSON); err != nil {
			return fmt.Errorf("scanning transition: %w", err)
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &tr.Meta); err != nil {
				return fmt.Errorf("decoding transition meta: %w", err)
			}
		}
		if t, ok := byID[taskID]; ok {
			t.Transitions = append(t.Transitions, tr)
		}
	}
	return rows.Err()
}

func loadReviews(q querier, featureKey string, byID map[string]*types.Task) error {
	rows, err := q.Query(`
		SELECT task_id, role, decision, COALESCE(notes, ''), timestamp
		FROM reviews
		WHERE feature_key = ?
	`, featureKey)
	if err != nil {
		return fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID string
		var rev types.StakeholderReview
		if err := rows.Scan(&taskID, &rev.Role, &rev.Decision, &rev.Notes, &rev.Timestamp); err != nil {
			return fmt.Errorf("scanning review: %w", err)
		}
		t, ok := byID[taskID]
		if !ok {
			continue
		}
		if t.Reviews == nil {
			t.Reviews = make(map[types.Role]*types.StakeholderReview)
		}
		r := rev
		t.Reviews[rev.Role] = &r
	}
	return rows.Err()
}

// SaveTaskSet replaces the feature's entire task aggregate in one
// transaction. All-or-nothing: a partially written set is never visible.
func (s *Store) SaveTaskSet(ts *types.TaskSet) error {
	if _, err := s.GetFeature(ts.FeatureKey); err != nil {
		return err
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"reviews", "transitions", "task_dependencies", "tasks"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE feature_key = ?", table), ts.FeatureKey); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, t := range ts.Tasks {
		_, err := tx.Exec(`
			INSERT INTO tasks (feature_key, id, title, description, status,
			                   order_of_execution, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, ts.FeatureKey, t.ID, t.Title, t.Description, t.Status,
			t.OrderOfExecution, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("saving task %s: %w", t.ID, err)
		}

		for _, dep := range t.Dependencies {
			if _, err := tx.Exec(`
				INSERT INTO task_dependencies (feature_key, task_id, depends_on)
				VALUES (?, ?, ?)
			`, ts.FeatureKey, t.ID, dep); err != nil {
				return fmt.Errorf("saving dependency %s -> %s: %w", t.ID, dep, err)
			}
		}

		for seq, tr := range t.Transitions {
			var metaJSON []byte
			if len(tr.Meta) > 0 {
				metaJSON, err = json.Marshal(tr.Meta)
				if err != nil {
					return fmt.Errorf("encoding transition meta: %w", err)
				}
			}
			if _, err := tx.Exec(`
				INSERT INTO transitions (feature_key, task_id, seq, from_status,
				                         to_status, actor, timestamp, notes, meta)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, ts.FeatureKey, t.ID, seq, tr.From, tr.To, tr.Actor,
				tr.Timestamp, tr.Notes, string(metaJSON)); err != nil {
				return fmt.Errorf("saving transition for %s: %w", t.ID, err)
			}
		}

		for _, rev := range t.Reviews {
			if _, err := tx.Exec(`
				INSERT INTO reviews (feature_key, task_id, role, decision, notes, timestamp)
				VALUES (?, ?, ?, ?, ?, ?)
			`, ts.FeatureKey, t.ID, rev.Role, rev.Decision, rev.Notes, rev.Timestamp); err != nil {
				return fmt.Errorf("saving review for %s: %w", t.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task set: %w", err)
	}
	return nil
}

// GetSetting reads a settings value; returns "" when the key is absent
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.DB.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting: %w", err)
	}
	return value, nil
}

// SetSetting writes a settings value
func (s *Store) SetSetting(key, value string) error {
	_, err := s.DB.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing setting: %w", err)
	}
	return nil
}
