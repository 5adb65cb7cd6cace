// Package postgres stores checkpoints in PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arigraph/stepgraph/graph"
)

// DBPool is the subset of *pgxpool.Pool this store calls; narrowing to an
// interface lets tests substitute pgxmock instead of a live database.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements graph.CheckpointStore on top of a Postgres table keyed
// by thread id, with checkpoint state and metadata stored as JSONB.
type Store struct {
	pool      DBPool
	tableName string
}

// Options configures a pool-owning Store.
type Options struct {
	ConnString string
	// TableName defaults to "checkpoints".
	TableName string
}

// New creates a connection pool for opts.ConnString and ensures the
// checkpoints table exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &Store{pool: pool, tableName: tableName}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a Store over an already-open pool (or a mock
// implementing DBPool), skipping schema creation so callers can manage
// migrations themselves.
func NewWithPool(pool DBPool, tableName string) *Store {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &Store{pool: pool, tableName: tableName}
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			checkpoint_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			parent_id TEXT,
			state JSONB NOT NULL,
			next_nodes JSONB NOT NULL,
			step INTEGER NOT NULL,
			metadata JSONB,
			pending_interrupts JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id, created_at);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements graph.CheckpointStore.
func (s *Store) Save(ctx context.Context, cfg graph.CheckpointConfig, checkpoint *graph.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal state: %w", err)
	}
	nextNodesJSON, err := json.Marshal(checkpoint.NextNodes)
	if err != nil {
		return fmt.Errorf("postgres: marshal next_nodes: %w", err)
	}
	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	pendingJSON, err := json.Marshal(checkpoint.PendingInterrupts)
	if err != nil {
		return fmt.Errorf("postgres: marshal pending_interrupts: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (checkpoint_id, thread_id, parent_id, state, next_nodes, step, metadata, pending_interrupts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (checkpoint_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			parent_id = EXCLUDED.parent_id,
			state = EXCLUDED.state,
			next_nodes = EXCLUDED.next_nodes,
			step = EXCLUDED.step,
			metadata = EXCLUDED.metadata,
			pending_interrupts = EXCLUDED.pending_interrupts,
			created_at = EXCLUDED.created_at
	`, s.tableName)

	_, err = s.pool.Exec(ctx, query,
		checkpoint.CheckpointID,
		cfg.ThreadID,
		checkpoint.ParentID,
		stateJSON,
		nextNodesJSON,
		checkpoint.Step,
		metadataJSON,
		pendingJSON,
		checkpoint.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint: %w", err)
	}
	return nil
}

// Load implements graph.CheckpointStore, returning the most recent
// checkpoint for cfg.ThreadID, or nil if none exists.
func (s *Store) Load(ctx context.Context, cfg graph.CheckpointConfig) (*graph.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT checkpoint_id, parent_id, state, next_nodes, step, metadata, pending_interrupts, created_at
		FROM %s
		WHERE thread_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, s.tableName)

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, cfg.ThreadID).Scan, cfg.ThreadID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load checkpoint: %w", err)
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
		WHERE thread_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, cfg.ThreadID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*graph.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan, cfg.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan checkpoint row: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate checkpoint rows: %w", err)
	}
	return out, nil
}

func scanCheckpoint(scan func(...any) error, threadID string) (*graph.Checkpoint, error) {
	var (
		checkpointID string
		parentID     *string
		stateJSON    []byte
		nextNodes    []byte
		step         int
		metadataJSON []byte
		pendingJSON  []byte
		createdAt    time.Time
	)
	if err := scan(&checkpointID, &parentID, &stateJSON, &nextNodes, &step, &metadataJSON, &pendingJSON, &createdAt); err != nil {
		return nil, err
	}

	cp := &graph.Checkpoint{
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		ParentID:     parentID,
		Step:         step,
		CreatedAt:    createdAt,
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal(nextNodes, &cp.NextNodes); err != nil {
		return nil, fmt.Errorf("unmarshal next_nodes: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &cp.PendingInterrupts); err != nil {
			return nil, fmt.Errorf("unmarshal pending_interrupts: %w", err)
		}
	}
	return cp, nil
}
