package http

import (
	"time"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/usecase"
)

type userResponse struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	Email          string    `json:"email,omitempty"`
	BridgeIdentity string    `json:"bridge_identity,omitempty"`
	Active         bool      `json:"active"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	SyncedAt       time.Time `json:"synced_at"`
}

type roomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Topic       string    `json:"topic,omitempty"`
	MemberCount int       `json:"member_count"`
	Visibility  string    `json:"visibility"`
	Encrypted   bool      `json:"encrypted"`
	Bridged     bool      `json:"bridged"`
	Active      bool      `json:"active"`
	SyncedAt    time.Time `json:"synced_at"`
}

type membershipResponse struct {
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	State      string    `json:"state"`
	PowerLevel int       `json:"power_level"`
	JoinedAt   time.Time `json:"joined_at"`
	SyncedAt   time.Time `json:"synced_at"`
}

type cacheResponse struct {
	Entity      string               `json:"entity"`
	Count       int                  `json:"count"`
	Users       []userResponse       `json:"users,omitempty"`
	Rooms       []roomResponse       `json:"rooms,omitempty"`
	Memberships []membershipResponse `json:"memberships,omitempty"`
}

func toCacheResponse(result *model.CacheResult) cacheResponse {
	resp := cacheResponse{
		Entity: string(result.EntityType),
		Count:  result.Len(),
	}
	for _, u := range result.Users {
		resp.Users = append(resp.Users, userResponse{
			ID:             string(u.ID),
			DisplayName:    u.DisplayName,
			Email:          u.Email,
			BridgeIdentity: u.BridgeIdentity,
			Active:         u.Active,
			LastSeenAt:     u.LastSeenAt,
			SyncedAt:       u.SyncedAt,
		})
	}
	for _, r := range result.Rooms {
		resp.Rooms = append(resp.Rooms, roomResponse{
			ID:          string(r.ID),
			Name:        r.Name,
			Topic:       r.Topic,
			MemberCount: r.MemberCount,
			Visibility:  string(r.Visibility),
			Encrypted:   r.Encrypted,
			Bridged:     r.Bridged,
			Active:      r.Active,
			SyncedAt:    r.SyncedAt,
		})
	}
	for _, m := range result.Memberships {
		resp.Memberships = append(resp.Memberships, membershipResponse{
			RoomID:     string(m.RoomID),
			UserID:     string(m.UserID),
			State:      string(m.State),
			PowerLevel: m.PowerLevel,
			JoinedAt:   m.JoinedAt,
			SyncedAt:   m.SyncedAt,
		})
	}
	return resp
}

type syncRunResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Trigger        string    `json:"trigger"`
	Mode           string    `json:"mode,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	ItemsSeen      int       `json:"items_seen"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsSkipped   int       `json:"items_skipped"`
	LastPage       int       `json:"last_page"`
	LowConfidence  bool      `json:"low_confidence"`
	Error          string    `json:"error,omitempty"`
}

func toSyncRunResponse(run *model.SyncRun) *syncRunResponse {
	if run == nil {
		return nil
	}
	return &syncRunResponse{
		ID:             string(run.ID),
		Type:           string(run.Type),
		Status:         string(run.Status),
		Trigger:        string(run.Trigger),
		Mode:           string(run.Mode),
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		ItemsSeen:      run.ItemsSeen,
		ItemsProcessed: run.ItemsProcessed,
		ItemsSkipped:   run.ItemsSkipped,
		LastPage:       run.LastPage,
		LowConfidence:  run.LowConfidence,
		Error:          run.Error,
	}
}

type syncStateResponse struct {
	Type          string           `json:"type"`
	LastRun       *syncRunResponse `json:"last_run"`
	LastSuccess   *syncRunResponse `json:"last_success"`
	LastAttemptAt time.Time        `json:"last_attempt_at"`
	LastSuccessAt time.Time        `json:"last_success_at"`
}

type triggerResponse struct {
	Status     string `json:"status"`
	RunID      string `json:"run_id,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

type dispatchRequest struct {
	Kind             string   `json:"kind"`
	UserIDs          []string `json:"user_ids"`
	UserQuery        string   `json:"user_query"`
	Bridged          *bool    `json:"bridged"`
	RoomIDs          []string `json:"room_ids"`
	RoomQuery        string   `json:"room_query"`
	Text             string   `json:"text"`
	ConcurrencyLimit int      `json:"concurrency_limit"`
	Actor            string   `json:"actor"`
}

type dispatchTargetResponse struct {
	TargetID    string    `json:"target_id"`
	UserID      string    `json:"user_id,omitempty"`
	RoomID      string    `json:"room_id,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completed_at"`
}

type dispatchJobResponse struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	Actor            string    `json:"actor,omitempty"`
	Targets          int       `json:"targets"`
	ConcurrencyLimit int       `json:"concurrency_limit"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      time.Time `json:"completed_at"`
}

type dispatchSummaryResponse struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}

type dispatchStatusResponse struct {
	Job     dispatchJobResponse      `json:"job"`
	Summary dispatchSummaryResponse  `json:"summary"`
	Results []dispatchTargetResponse `json:"results"`
}

func toDispatchJobResponse(job *model.DispatchJob) dispatchJobResponse {
	return dispatchJobResponse{
		ID:               string(job.ID),
		Kind:             string(job.Kind),
		Status:           string(job.Status),
		Actor:            job.Actor,
		Targets:          len(job.Targets),
		ConcurrencyLimit: job.ConcurrencyLimit,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

func toDispatchStatusResponse(st *usecase.DispatchStatus) dispatchStatusResponse {
	targets := make(map[model.TargetID]model.DispatchTarget, len(st.Job.Targets))
	for _, t := range st.Job.Targets {
		targets[t.ID] = t
	}

	resp := dispatchStatusResponse{
		Job: toDispatchJobResponse(st.Job),
		Summary: dispatchSummaryResponse{
			Succeeded: st.Summary.Succeeded,
			Failed:    st.Summary.Failed,
			Pending:   st.Summary.Pending,
			Total:     st.Summary.Total,
		},
		Results: make([]dispatchTargetResponse, 0, len(st.Results)),
	}
	for _, r := range st.Results {
		t := targets[r.TargetID]
		resp.Results = append(resp.Results, dispatchTargetResponse{
			TargetID:    string(r.TargetID),
			UserID:      string(t.UserID),
			RoomID:      string(t.RoomID),
			Outcome:     string(r.Outcome),
			Error:       r.Error,
			Attempts:    r.Attempts,
			CompletedAt: r.CompletedAt,
		})
	}
	return resp
}

type noteRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Body       string `json:"body"`
	Author     string `json:"author"`
}

type noteResponse struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Body       string    `json:"body"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toNoteResponse(n *model.AdminNote) noteResponse {
	return noteResponse{
		ID:         string(n.ID),
		EntityType: string(n.EntityType),
		EntityID:   n.EntityID,
		Body:       n.Body,
		Author:     n.Author,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}
