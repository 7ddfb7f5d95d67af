package model

import (
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// DispatchJobID identifies a bulk operation
type DispatchJobID string

// TargetID identifies one target inside a job
type TargetID string

// DispatchTarget is one recipient of a bulk operation, resolved from the
// cache at submission time
type DispatchTarget struct {
	ID          TargetID
	UserID      DirectoryUserID
	RoomID      ChatRoomID
	DisplayName string
	RoomName    string
}

// NewUserTarget builds a direct-message target
func NewUserTarget(u *DirectoryUser) DispatchTarget {
	return DispatchTarget{
		ID:          TargetID("user:" + string(u.ID)),
		UserID:      u.ID,
		DisplayName: u.DisplayName,
	}
}

// NewRoomTarget builds a broadcast target
func NewRoomTarget(r *ChatRoom) DispatchTarget {
	return DispatchTarget{
		ID:       TargetID("room:" + string(r.ID)),
		RoomID:   r.ID,
		RoomName: r.Name,
	}
}

// NewInviteTarget builds an invite target for one (user, room) pair
func NewInviteTarget(u *DirectoryUser, r *ChatRoom) DispatchTarget {
	return DispatchTarget{
		ID:          TargetID(fmt.Sprintf("invite:%s:%s", r.ID, u.ID)),
		UserID:      u.ID,
		RoomID:      r.ID,
		DisplayName: u.DisplayName,
		RoomName:    r.Name,
	}
}

// DispatchPayload is the operation input shared by all targets
type DispatchPayload struct {
	// Text is a text/template rendered per target
	Text string
	// RoomIDs are the rooms to invite users into (invite jobs only)
	RoomIDs []ChatRoomID
}

// DispatchJob is one bulk operation request. Targets never change after
// submission.
type DispatchJob struct {
	ID               DispatchJobID
	Kind             types.DispatchKind
	Targets          []DispatchTarget
	Payload          DispatchPayload
	ConcurrencyLimit int
	Status           types.JobStatus
	Actor            string
	CreatedAt        time.Time
	CompletedAt      time.Time
}

// Validate checks that the job can be executed
func (j *DispatchJob) Validate() error {
	if !j.Kind.IsValid() {
		return goerr.New("invalid dispatch kind", goerr.V("kind", j.Kind))
	}
	if j.ConcurrencyLimit <= 0 {
		return goerr.New("concurrency limit must be positive", goerr.V("limit", j.ConcurrencyLimit))
	}
	if j.Kind != types.DispatchInvite && j.Payload.Text == "" {
		return goerr.New("message text is required", goerr.V("kind", j.Kind))
	}

	seen := make(map[TargetID]struct{}, len(j.Targets))
	for _, t := range j.Targets {
		if _, dup := seen[t.ID]; dup {
			return goerr.New("duplicate dispatch target", goerr.V(TargetIDKey, t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// DispatchResult is the single outcome record of one target in one job.
// Retries update it in place.
type DispatchResult struct {
	JobID       DispatchJobID
	TargetID    TargetID
	Outcome     types.DispatchOutcome
	Error       string
	Attempts    int
	CompletedAt time.Time
}

// DispatchSummary aggregates the results of a job
type DispatchSummary struct {
	Succeeded int
	Failed    int
	Pending   int
	Total     int
}

// Summarize counts results by outcome. Total is the number of targets.
func Summarize(total int, results []*DispatchResult) DispatchSummary {
	s := DispatchSummary{Total: total}
	for _, r := range results {
		switch r.Outcome {
		case types.OutcomeSuccess:
			s.Succeeded++
		case types.OutcomeFailure:
			s.Failed++
		}
	}
	s.Pending = total - s.Succeeded - s.Failed
	return s
}

// Finalized reports whether every target has a terminal result
func (s DispatchSummary) Finalized() bool {
	return s.Succeeded+s.Failed == s.Total
}
