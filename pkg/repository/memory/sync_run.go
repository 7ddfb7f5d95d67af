package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

type syncRunRepository struct {
	mu   sync.RWMutex
	runs map[model.SyncRunID]*model.SyncRun
}

func newSyncRunRepository() *syncRunRepository {
	return &syncRunRepository{
		runs: make(map[model.SyncRunID]*model.SyncRun),
	}
}

func (r *syncRunRepository) Put(ctx context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		return goerr.New("sync run ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	runCopy := *run
	r.runs[run.ID] = &runCopy
	return nil
}

func (r *syncRunRepository) Get(ctx context.Context, id model.SyncRunID) (*model.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "sync run not found", goerr.V(model.SyncRunIDKey, id))
	}
	runCopy := *run
	return &runCopy, nil
}

func (r *syncRunRepository) Latest(ctx context.Context, syncType types.SyncType) (*model.SyncRun, error) {
	runs := r.sorted(syncType, func(*model.SyncRun) bool { return true })
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

func (r *syncRunRepository) LatestSuccessful(ctx context.Context, syncType types.SyncType) (*model.SyncRun, error) {
	runs := r.sorted(syncType, func(run *model.SyncRun) bool {
		return run.Status == types.SyncStatusCompleted
	})
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

func (r *syncRunRepository) List(ctx context.Context, syncType types.SyncType, limit int) ([]*model.SyncRun, error) {
	runs := r.sorted(syncType, func(*model.SyncRun) bool { return true })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// sorted returns copies of matching runs, newest first
func (r *syncRunRepository) sorted(syncType types.SyncType, match func(*model.SyncRun) bool) []*model.SyncRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []*model.SyncRun
	for _, run := range r.runs {
		if run.Type != syncType || !match(run) {
			continue
		}
		runCopy := *run
		runs = append(runs, &runCopy)
	}

	slices.SortFunc(runs, func(a, b *model.SyncRun) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.ID), string(a.ID))
	})
	return runs
}
