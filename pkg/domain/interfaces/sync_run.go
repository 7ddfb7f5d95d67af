package interfaces

import (
	"context"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// SyncRunRepository records sync run history
type SyncRunRepository interface {
	// Put creates or replaces a run
	Put(ctx context.Context, run *model.SyncRun) error
	Get(ctx context.Context, id model.SyncRunID) (*model.SyncRun, error)
	// Latest returns the most recently created run of the type, or nil
	Latest(ctx context.Context, syncType types.SyncType) (*model.SyncRun, error)
	// LatestSuccessful returns the most recently created COMPLETED run, or nil
	LatestSuccessful(ctx context.Context, syncType types.SyncType) (*model.SyncRun, error)
	// List returns up to limit runs of the type, newest first
	List(ctx context.Context, syncType types.SyncType, limit int) ([]*model.SyncRun, error)
}
