package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/casework/internal/adapters/checkpoint"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

type countingLocker struct {
	locks   atomic.Int32
	unlocks atomic.Int32
	err     error
}

func (l *countingLocker) Lock(_ context.Context, _ core.ThreadID) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks.Add(1)
	return func() { l.unlocks.Add(1) }, nil
}

func TestCheckpointKeeper_SaveLoad(t *testing.T) {
	ctx := context.Background()
	keeper := NewCheckpointKeeper(checkpoint.NewMemoryStore(), nil, logging.NewNop())

	state := core.NewWorkflowState("t1", "background", core.DefaultAnalysisOptions())
	state.Touch(core.NodeApprovalGate, core.StatusAwaitingApproval)
	if err := keeper.Save(ctx, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := keeper.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Node != core.NodeApprovalGate || got.Status != core.StatusAwaitingApproval {
		t.Errorf("loaded %s/%s", got.Node, got.Status)
	}

	list, err := keeper.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}

	if err := keeper.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := keeper.Load(ctx, "t1"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("Load() after delete error = %v", err)
	}
}

func TestCheckpointKeeper_UpdateIsSerializedPerThread(t *testing.T) {
	ctx := context.Background()
	keeper := NewCheckpointKeeper(checkpoint.NewMemoryStore(), nil, nil)

	state := core.NewWorkflowState("t1", "background", core.DefaultAnalysisOptions())
	if err := keeper.Save(ctx, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := keeper.Update(ctx, "t1", func(tx *CheckpointTxn) error {
				s, err := tx.Load()
				if err != nil {
					return err
				}
				s.FeedbackHistory = append(s.FeedbackHistory, "x")
				time.Sleep(time.Millisecond)
				return tx.Save(s)
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := keeper.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.FeedbackHistory) != writers {
		t.Errorf("lost updates: history length = %d, want %d", len(got.FeedbackHistory), writers)
	}

	keeper.mu.Lock()
	remaining := len(keeper.locks)
	keeper.mu.Unlock()
	if remaining != 0 {
		t.Errorf("lock entries not released: %d", remaining)
	}
}

func TestCheckpointKeeper_UsesDistributedLocker(t *testing.T) {
	ctx := context.Background()
	locker := &countingLocker{}
	keeper := NewCheckpointKeeper(checkpoint.NewMemoryStore(), locker, nil)

	if err := keeper.Save(ctx, core.NewWorkflowState("t1", "bg", core.DefaultAnalysisOptions())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if locker.locks.Load() != 1 || locker.unlocks.Load() != 1 {
		t.Errorf("locks=%d unlocks=%d, want 1/1", locker.locks.Load(), locker.unlocks.Load())
	}

	locker.err = errors.New("redis down")
	err := keeper.Save(ctx, core.NewWorkflowState("t1", "bg", core.DefaultAnalysisOptions()))
	if !core.IsCategory(err, core.ErrCatConflict) {
		t.Errorf("Save() with failing locker error = %v, want conflict", err)
	}
}

func TestCheckpointTxn_RejectsForeignState(t *testing.T) {
	keeper := NewCheckpointKeeper(checkpoint.NewMemoryStore(), nil, nil)
	err := keeper.Update(context.Background(), "t1", func(tx *CheckpointTxn) error {
		return tx.Save(core.NewWorkflowState("t2", "bg", core.DefaultAnalysisOptions()))
	})
	if !core.IsCategory(err, core.ErrCatState) {
		t.Errorf("Update() error = %v, want state error", err)
	}
}
