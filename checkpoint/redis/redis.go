// Package redis stores checkpoints in Redis, indexed per thread by a
// sorted set keyed on creation time.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arigraph/stepgraph/graph"
)

// Store implements graph.CheckpointStore on top of a redis.Client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key this store writes. Default "stepgraph:".
	Prefix string
	// TTL expires both checkpoint and index entries if non-zero.
	TTL time.Duration
}

// New opens a Redis client.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, opts.TTL)
}

// NewWithClient wraps an already-constructed client (a real one, or one
// pointed at miniredis for tests).
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "stepgraph:"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) checkpointKey(threadID, checkpointID string) string {
	return fmt.Sprintf("%scheckpoint:%s:%s", s.prefix, threadID, checkpointID)
}

func (s *Store) threadIndexKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:checkpoints", s.prefix, threadID)
}

// Save implements graph.CheckpointStore: the checkpoint is written as a
// JSON blob and its id added to the thread's sorted-set index, scored by
// creation time so the most recent checkpoint is always the highest score.
func (s *Store) Save(ctx context.Context, cfg graph.CheckpointConfig, checkpoint *graph.Checkpoint) error {
	data, err := checkpoint.MarshalJSON()
	if err != nil {
		return fmt.Errorf("redis: marshal checkpoint: %w", err)
	}

	key := s.checkpointKey(cfg.ThreadID, checkpoint.CheckpointID)
	indexKey := s.threadIndexKey(cfg.ThreadID)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(checkpoint.CreatedAt.UnixNano()),
		Member: checkpoint.CheckpointID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, indexKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save checkpoint: %w", err)
	}
	return nil
}

// Load implements graph.CheckpointStore, returning the most recent
// checkpoint for cfg.ThreadID, or nil if none exists.
func (s *Store) Load(ctx context.Context, cfg graph.CheckpointConfig) (*graph.Checkpoint, error) {
	indexKey := s.threadIndexKey(cfg.ThreadID)
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read thread index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	data, err := s.client.Get(ctx, s.checkpointKey(cfg.ThreadID, ids[0])).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load checkpoint: %w", err)
	}

	var cp graph.Checkpoint
	if err := cp.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("redis: unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// List implements graph.CheckpointStore, most-recent-first.
func (s *Store) List(ctx context.Context, cfg graph.CheckpointConfig, opts graph.ListOptions) ([]*graph.Checkpoint, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = graph.DefaultListLimit
	}

	indexKey := s.threadIndexKey(cfg.ThreadID)
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read thread index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(cfg.ThreadID, id)
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: fetch checkpoints: %w", err)
	}

	out := make([]*graph.Checkpoint, 0, len(results))
	for _, result := range results {
		if result == nil {
			continue
		}
		strData, ok := result.(string)
		if !ok {
			continue
		}
		var cp graph.Checkpoint
		if err := cp.UnmarshalJSON([]byte(strData)); err != nil {
			return nil, fmt.Errorf("redis: unmarshal checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
