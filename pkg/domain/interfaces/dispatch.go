package interfaces

import (
	"context"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

// DispatchRepository stores dispatch jobs and their per-target results.
//
// PutResult upserts by (JobID, TargetID), so a target always has exactly one
// result record no matter how many times it is retried.
type DispatchRepository interface {
	PutJob(ctx context.Context, job *model.DispatchJob) error
	GetJob(ctx context.Context, id model.DispatchJobID) (*model.DispatchJob, error)
	ListJobs(ctx context.Context, limit int) ([]*model.DispatchJob, error)

	PutResult(ctx context.Context, result *model.DispatchResult) error
	GetResult(ctx context.Context, jobID model.DispatchJobID, targetID model.TargetID) (*model.DispatchResult, error)
	ListResults(ctx context.Context, jobID model.DispatchJobID) ([]*model.DispatchResult, error)
}
