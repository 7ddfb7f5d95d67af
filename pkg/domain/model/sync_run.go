package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// SyncRunID identifies one execution of a sync
type SyncRunID string

// ErrInvalidTransition is returned when a sync run is moved out of a terminal
// state or skips RUNNING
var ErrInvalidTransition = goerr.New("invalid sync run transition")

// SyncRun records one execution of a sync operation. Only the goroutine that
// owns the run mutates it; once terminal it never changes again.
type SyncRun struct {
	ID          SyncRunID
	Type        types.SyncType
	Status      types.SyncStatus
	Trigger     types.TriggerSource
	Mode        types.SyncMode
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	ItemsSeen      int
	ItemsProcessed int
	ItemsSkipped   int

	// Progress of the last successfully fetched page
	LastPage   int
	LastCursor string

	// LowConfidence is set when the provider gave no total count, so a
	// silently truncated listing could not be detected
	LowConfidence bool

	Error string
}

// NewSyncRun creates a PENDING run
func NewSyncRun(id SyncRunID, syncType types.SyncType, trigger types.TriggerSource, now time.Time) *SyncRun {
	return &SyncRun{
		ID:        id,
		Type:      syncType,
		Status:    types.SyncStatusPending,
		Trigger:   trigger,
		CreatedAt: now,
	}
}

// Start moves a PENDING run to RUNNING
func (r *SyncRun) Start(now time.Time) error {
	if r.Status != types.SyncStatusPending {
		return goerr.Wrap(ErrInvalidTransition, "run is not pending",
			goerr.V(SyncRunIDKey, r.ID), goerr.V("status", r.Status))
	}
	r.Status = types.SyncStatusRunning
	r.StartedAt = now
	return nil
}

// Finish moves a RUNNING run to a terminal status
func (r *SyncRun) Finish(status types.SyncStatus, now time.Time, cause error) error {
	if !status.IsTerminal() {
		return goerr.Wrap(ErrInvalidTransition, "finish requires a terminal status",
			goerr.V(SyncRunIDKey, r.ID), goerr.V("status", status))
	}
	if r.Status.IsTerminal() {
		return goerr.Wrap(ErrInvalidTransition, "run already finished",
			goerr.V(SyncRunIDKey, r.ID), goerr.V("status", r.Status))
	}
	// A cancelled trigger may never have started
	if r.Status == types.SyncStatusPending && status != types.SyncStatusCancelled {
		return goerr.Wrap(ErrInvalidTransition, "run never started",
			goerr.V(SyncRunIDKey, r.ID), goerr.V("status", status))
	}

	r.Status = status
	r.CompletedAt = now
	if cause != nil {
		r.Error = cause.Error()
	}
	return nil
}

// Duration returns how long the run took, or zero while it is not finished
func (r *SyncRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// SyncState summarises the sync history of one sync type
type SyncState struct {
	Type          types.SyncType
	LastRun       *SyncRun
	LastSuccess   *SyncRun
	LastAttemptAt time.Time
	LastSuccessAt time.Time
}

// Watermark returns the modified-since boundary for an incremental sync: the
// start time of the last successful run
func (s *SyncState) Watermark() time.Time {
	if s.LastSuccess == nil {
		return time.Time{}
	}
	return s.LastSuccess.StartedAt
}
