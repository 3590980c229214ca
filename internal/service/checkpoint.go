package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

// lockEntry is a per-thread mutex with a reference count so idle entries
// can be dropped from the map.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// CheckpointKeeper serializes checkpoint writes per thread. Within a process
// a keyed mutex orders callers; across processes an optional ThreadLocker
// (Redis) does.
type CheckpointKeeper struct {
	store  core.CheckpointStore
	locker core.ThreadLocker
	logger *logging.Logger

	mu    sync.Mutex
	locks map[core.ThreadID]*lockEntry
}

// NewCheckpointKeeper creates a keeper. locker may be nil.
func NewCheckpointKeeper(store core.CheckpointStore, locker core.ThreadLocker, logger *logging.Logger) *CheckpointKeeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CheckpointKeeper{
		store:  store,
		locker: locker,
		logger: logger,
		locks:  make(map[core.ThreadID]*lockEntry),
	}
}

func (k *CheckpointKeeper) acquire(id core.ThreadID) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (k *CheckpointKeeper) release(id core.ThreadID) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(k.locks, id)
	}
}

// CheckpointTxn is the view of a thread's checkpoint while its lock is held.
type CheckpointTxn struct {
	ctx context.Context
	k   *CheckpointKeeper
	id  core.ThreadID
}

// Load reads and verifies the current state.
func (t *CheckpointTxn) Load() (*core.WorkflowState, error) {
	cp, err := t.k.store.Load(t.ctx, t.id)
	if err != nil {
		return nil, err
	}
	return cp.Decode()
}

// Save writes state as the thread's checkpoint.
func (t *CheckpointTxn) Save(state *core.WorkflowState) error {
	if state.ThreadID != t.id {
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("checkpoint for %s written under lock of %s", state.ThreadID, t.id))
	}
	cp, err := core.NewCheckpoint(state)
	if err != nil {
		return err
	}
	if err := t.k.store.Save(t.ctx, cp); err != nil {
		return err
	}
	t.k.logger.Debug("checkpoint saved",
		"thread_id", string(state.ThreadID),
		"node", string(state.Node),
		"status", string(state.Status),
	)
	return nil
}

// Update runs fn while holding the thread's lock.
func (k *CheckpointKeeper) Update(ctx context.Context, id core.ThreadID, fn func(*CheckpointTxn) error) error {
	entry := k.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		k.release(id)
	}()

	if k.locker != nil {
		unlock, err := k.locker.Lock(ctx, id)
		if err != nil {
			return core.ErrConflict(core.CodeLockAcquireFailed, "could not lock thread "+string(id)).WithCause(err)
		}
		defer unlock()
	}

	return fn(&CheckpointTxn{ctx: ctx, k: k, id: id})
}

// Save writes a checkpoint for state under its thread lock.
func (k *CheckpointKeeper) Save(ctx context.Context, state *core.WorkflowState) error {
	return k.Update(ctx, state.ThreadID, func(tx *CheckpointTxn) error {
		return tx.Save(state)
	})
}

// Load reads a thread's state without taking the lock.
func (k *CheckpointKeeper) Load(ctx context.Context, id core.ThreadID) (*core.WorkflowState, error) {
	cp, err := k.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return cp.Decode()
}

// Delete removes a thread's checkpoint under its lock.
func (k *CheckpointKeeper) Delete(ctx context.Context, id core.ThreadID) error {
	return k.Update(ctx, id, func(tx *CheckpointTxn) error {
		return k.store.Delete(ctx, id)
	})
}

// List returns all known threads.
func (k *CheckpointKeeper) List(ctx context.Context) ([]core.ThreadSummary, error) {
	return k.store.List(ctx)
}

// Store returns the underlying store.
func (k *CheckpointKeeper) Store() core.CheckpointStore {
	return k.store
}
