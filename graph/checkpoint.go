package graph

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"
)

// PendingInterrupt is the {value, node} pair persisted alongside a
// checkpoint taken at the moment a node suspended.
type PendingInterrupt struct {
	Value any    `json:"value"`
	Node  string `json:"node"`
}

// rfc3339Micro formats/parses created_at with exactly microsecond
// resolution, per the checkpoint wire format.
const rfc3339Micro = "2006-01-02T15:04:05.000000Z07:00"

// Checkpoint is a durable snapshot of one super-step's result.
type Checkpoint struct {
	ThreadID          string             `json:"thread_id"`
	CheckpointID      string             `json:"checkpoint_id"`
	ParentID          *string            `json:"parent_id"`
	State             map[string]any     `json:"state"`
	NextNodes         []string           `json:"next_nodes"`
	Step              int                `json:"step"`
	Metadata          map[string]any     `json:"metadata"`
	PendingInterrupts []PendingInterrupt `json:"pending_interrupts"`
	CreatedAt         time.Time          `json:"created_at"`
}

// checkpointWire is the JSON-capable shape of Checkpoint; it exists only to
// pin created_at's textual precision to microseconds (time.Time's default
// marshaling uses nanoseconds when present).
type checkpointWire struct {
	ThreadID          string             `json:"thread_id"`
	CheckpointID      string             `json:"checkpoint_id"`
	ParentID          *string            `json:"parent_id"`
	State             map[string]any     `json:"state"`
	NextNodes         []string           `json:"next_nodes"`
	Step              int                `json:"step"`
	Metadata          map[string]any     `json:"metadata"`
	PendingInterrupts []PendingInterrupt `json:"pending_interrupts"`
	CreatedAt         string             `json:"created_at"`
}

// MarshalJSON implements json.Marshaler, formatting CreatedAt per the
// checkpoint wire format (RFC3339 with microsecond precision).
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(checkpointWire{
		ThreadID:          c.ThreadID,
		CheckpointID:      c.CheckpointID,
		ParentID:          c.ParentID,
		State:             c.State,
		NextNodes:         c.NextNodes,
		Step:              c.Step,
		Metadata:          c.Metadata,
		PendingInterrupts: c.PendingInterrupts,
		CreatedAt:         c.CreatedAt.UTC().Format(rfc3339Micro),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var wire checkpointWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	createdAt, err := time.Parse(rfc3339Micro, wire.CreatedAt)
	if err != nil {
		// Accept any RFC3339-compatible timestamp a backend might hand
		// back verbatim (e.g. one it stores with its own native column
		// type rather than round-tripping through this formatter).
		createdAt, err = time.Parse(time.RFC3339Nano, wire.CreatedAt)
		if err != nil {
			return err
		}
	}
	c.ThreadID = wire.ThreadID
	c.CheckpointID = wire.CheckpointID
	c.ParentID = wire.ParentID
	c.State = wire.State
	c.NextNodes = wire.NextNodes
	c.Step = wire.Step
	c.Metadata = wire.Metadata
	c.PendingInterrupts = wire.PendingInterrupts
	c.CreatedAt = createdAt
	return nil
}

// NewCheckpointID generates a fresh, unguessable checkpoint identifier:
// URL-safe base64 of 16 random bytes, no padding.
func NewCheckpointID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CheckpointConfig is the extensible key/value bag a Store receives.
// ThreadID is the only key the core engine requires; backends may read
// additional, backend-specific keys (a connection handle, a TTL, a schema
// prefix, a repository handle) out of Extra.
type CheckpointConfig struct {
	ThreadID string
	Extra    map[string]any
}

// ListOptions bounds CheckpointStore.List.
type ListOptions struct {
	// Limit caps the number of returned checkpoints, most recent first.
	// Zero means the backend's default (100).
	Limit int
}

// DefaultListLimit is used by backends when ListOptions.Limit is zero.
const DefaultListLimit = 100

// CheckpointStore is the durable save/load/list contract every backend
// implements. Implementations MUST tolerate concurrent Save calls on
// distinct thread ids; the engine itself serializes saves within a single
// invocation, so same-thread concurrency is never asked of a store.
type CheckpointStore interface {
	Save(ctx context.Context, cfg CheckpointConfig, checkpoint *Checkpoint) error
	// Load returns the latest checkpoint (by CreatedAt desc) for
	// cfg.ThreadID, or nil if none exists.
	Load(ctx context.Context, cfg CheckpointConfig) (*Checkpoint, error)
	// List returns checkpoints most-recent-first, bounded by opts.Limit.
	List(ctx context.Context, cfg CheckpointConfig, opts ListOptions) ([]*Checkpoint, error)
}
