package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is the durable snapshot of a thread. One per thread; a save
// supersedes the previous one. Revision counts saves and is set by the store.
type Checkpoint struct {
	ThreadID  ThreadID  `json:"thread_id"`
	Node      NodeName  `json:"node"`
	Status    RunStatus `json:"status"`
	State     []byte    `json:"state"`
	Checksum  string    `json:"checksum"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCheckpoint serializes state and computes its checksum.
func NewCheckpoint(state *WorkflowState) (*Checkpoint, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshaling state: %w", err)
	}
	return &Checkpoint{
		ThreadID:  state.ThreadID,
		Node:      state.Node,
		Status:    state.Status,
		State:     data,
		Checksum:  checksum(data),
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.UpdatedAt,
	}, nil
}

// Decode verifies the checksum and returns the stored state.
func (c *Checkpoint) Decode() (*WorkflowState, error) {
	if c.Checksum != "" && checksum(c.State) != c.Checksum {
		return nil, ErrState(CodeStateCorrupted, fmt.Sprintf("checksum mismatch for thread %s", c.ThreadID))
	}
	var state WorkflowState
	if err := json.Unmarshal(c.State, &state); err != nil {
		return nil, ErrState(CodeStateCorrupted, "decoding state").WithCause(err)
	}
	return &state, nil
}

// Summary returns the listing view of the checkpoint.
func (c *Checkpoint) Summary() ThreadSummary {
	return ThreadSummary{ThreadID: c.ThreadID, Node: c.Node, Status: c.Status, UpdatedAt: c.UpdatedAt}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
