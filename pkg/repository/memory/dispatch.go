package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

type dispatchRepository struct {
	mu      sync.RWMutex
	jobs    map[model.DispatchJobID]*model.DispatchJob
	results map[model.DispatchJobID]map[model.TargetID]*model.DispatchResult
}

func newDispatchRepository() *dispatchRepository {
	return &dispatchRepository{
		jobs:    make(map[model.DispatchJobID]*model.DispatchJob),
		results: make(map[model.DispatchJobID]map[model.TargetID]*model.DispatchResult),
	}
}

func copyJob(job *model.DispatchJob) *model.DispatchJob {
	copied := *job
	copied.Targets = slices.Clone(job.Targets)
	copied.Payload.RoomIDs = slices.Clone(job.Payload.RoomIDs)
	return &copied
}

func (r *dispatchRepository) PutJob(ctx context.Context, job *model.DispatchJob) error {
	if job.ID == "" {
		return goerr.New("dispatch job ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *dispatchRepository) GetJob(ctx context.Context, id model.DispatchJobID) (*model.DispatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "dispatch job not found", goerr.V(model.JobIDKey, id))
	}
	return copyJob(job), nil
}

// ListJobs returns jobs newest first
func (r *dispatchRepository) ListJobs(ctx context.Context, limit int) ([]*model.DispatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*model.DispatchJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, copyJob(job))
	}

	slices.SortFunc(jobs, func(a, b *model.DispatchJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.ID), string(a.ID))
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *dispatchRepository) PutResult(ctx context.Context, result *model.DispatchResult) error {
	if result.JobID == "" || result.TargetID == "" {
		return goerr.New("dispatch result requires job and target",
			goerr.V(model.JobIDKey, result.JobID), goerr.V(model.TargetIDKey, result.TargetID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	results, ok := r.results[result.JobID]
	if !ok {
		results = make(map[model.TargetID]*model.DispatchResult)
		r.results[result.JobID] = results
	}
	resultCopy := *result
	results[result.TargetID] = &resultCopy
	return nil
}

func (r *dispatchRepository) GetResult(ctx context.Context, jobID model.DispatchJobID, targetID model.TargetID) (*model.DispatchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.results[jobID][targetID]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "dispatch result not found",
			goerr.V(model.JobIDKey, jobID), goerr.V(model.TargetIDKey, targetID))
	}
	resultCopy := *result
	return &resultCopy, nil
}

// ListResults returns the results of a job ordered by target ID
func (r *dispatchRepository) ListResults(ctx context.Context, jobID model.DispatchJobID) ([]*model.DispatchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*model.DispatchResult, 0, len(r.results[jobID]))
	for _, result := range r.results[jobID] {
		resultCopy := *result
		results = append(results, &resultCopy)
	}

	slices.SortFunc(results, func(a, b *model.DispatchResult) int {
		return strings.Compare(string(a.TargetID), string(b.TargetID))
	})
	return results, nil
}
