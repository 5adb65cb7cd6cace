// Package sqlite stores checkpoints in a SQLite database via database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arigraph/stepgraph/graph"
)

// Store implements graph.CheckpointStore on top of a SQLite table keyed by
// thread id.
type Store struct {
	db        *sql.DB
	tableName string
}

// Options configures a Store.
type Options struct {
	Path string
	// TableName defaults to "checkpoints".
	TableName string
}

// New opens (creating if necessary) the SQLite database at opts.Path and
// ensures the checkpoints table exists.
func New(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &Store{db: db, tableName: tableName}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			checkpoint_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			parent_id TEXT,
			state TEXT NOT NULL,
			next_nodes TEXT NOT NULL,
			step INTEGER NOT NULL,
			metadata TEXT,
			pending_interrupts TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id, created_at);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements graph.CheckpointStore.
func (s *Store) Save(ctx context.Context, cfg graph.CheckpointConfig, checkpoint *graph.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("sqlite: marshal state: %w", err)
	}
	nextNodesJSON, err := json.Marshal(checkpoint.NextNodes)
	if err != nil {
		return fmt.Errorf("sqlite: marshal next_nodes: %w", err)
	}
	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	pendingJSON, err := json.Marshal(checkpoint.PendingInterrupts)
	if err != nil {
		return fmt.Errorf("sqlite: marshal pending_interrupts: %w", err)
	}
	created, err := checkpoint.MarshalJSON()
	if err != nil {
		return fmt.Errorf("sqlite: format created_at: %w", err)
	}
	var wire struct {
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(created, &wire); err != nil {
		return fmt.Errorf("sqlite: format created_at: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (checkpoint_id, thread_id, parent_id, state, next_nodes, step, metadata, pending_interrupts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			parent_id = excluded.parent_id,
			state = excluded.state,
			next_nodes = excluded.next_nodes,
			step = excluded.step,
			metadata = excluded.metadata,
			pending_interrupts = excluded.pending_interrupts,
			created_at = excluded.created_at
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		checkpoint.CheckpointID,
		cfg.ThreadID,
		checkpoint.ParentID,
		string(stateJSON),
		string(nextNodesJSON),
		checkpoint.Step,
		string(metadataJSON),
		string(pendingJSON),
		wire.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint: %w", err)
	}
	return nil
}

// Load implements graph.CheckpointStore, returning the most recent
// checkpoint for cfg.ThreadID, or nil if none exists.
func (s *Store) Load(ctx context.Context, cfg graph.CheckpointConfig) (*graph.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT checkpoint_id, parent_id, state, next_nodes, step, metadata, pending_interrupts, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, s.tableName)

	row := s.db.QueryRowContext(ctx, query, cfg.ThreadID)
	cp, err := scanCheckpoint(row.Scan, cfg.ThreadID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load checkpoint: %w", err)
	}
	return cp, nil
}

// List implements graph.CheckpointStore.
func (s *Store) List(ctx context.Context, cfg graph.CheckpointConfig, opts graph.ListOptions) ([]*graph.Checkpoint, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = graph.DefaultListLimit
	}

	query := fmt.Sprintf(`
		SELECT checkpoint_id, parent_id, state, next_nodes, step, metadata, pending_interrupts, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, cfg.ThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*graph.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan, cfg.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan checkpoint row: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate checkpoint rows: %w", err)
	}
	return out, nil
}

func scanCheckpoint(scan func(...any) error, threadID string) (*graph.Checkpoint, error) {
	var (
		checkpointID string
		parentID     sql.NullString
		stateJSON    string
		nextNodes    string
		step         int
		metadataJSON sql.NullString
		pendingJSON  sql.NullString
		createdAt    string
	)
	if err := scan(&checkpointID, &parentID, &stateJSON, &nextNodes, &step, &metadataJSON, &pendingJSON, &createdAt); err != nil {
		return nil, err
	}

	cp := &graph.Checkpoint{
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		Step:         step,
	}
	if parentID.Valid {
		cp.ParentID = &parentID.String
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(nextNodes), &cp.NextNodes); err != nil {
		return nil, fmt.Errorf("unmarshal next_nodes: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if pendingJSON.Valid && pendingJSON.String != "" {
		if err := json.Unmarshal([]byte(pendingJSON.String), &cp.PendingInterrupts); err != nil {
			return nil, fmt.Errorf("unmarshal pending_interrupts: %w", err)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	cp.CreatedAt = ts
	return cp, nil
}
