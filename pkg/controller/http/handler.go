package http

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/usecase"
)

// actorOf names the caller for audit records. Authentication is handled in
// front of this service, which forwards the user in X-Actor.
func actorOf(r *http.Request, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

func (s *Server) cacheCountsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.uc.Cache.Counts(r.Context())
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]int{
		"users":       counts.Users,
		"rooms":       counts.Rooms,
		"memberships": counts.Memberships,
	})
}

func (s *Server) cacheQueryHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseCacheQuery(r)
	if err != nil {
		handleError(r, w, err)
		return
	}

	result, err := s.uc.Cache.Query(r.Context(), *q)
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, toCacheResponse(result))
}

func (s *Server) parseCacheQuery(r *http.Request) (*model.CacheQuery, error) {
	entity, err := types.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		return nil, goerr.Wrap(usecase.ErrInvalidEntityType, "unknown cache entity", goerr.V("entity", chi.URLParam(r, "entity")))
	}
	limit, err := queryInt(r, "limit", s.maxListLimit)
	if err != nil {
		return nil, err
	}
	active, err := queryBool(r, "active")
	if err != nil {
		return nil, err
	}
	bridged, err := queryBool(r, "bridged")
	if err != nil {
		return nil, err
	}
	minMembers, err := queryInt(r, "min_members", 0)
	if err != nil {
		return nil, err
	}

	query := r.URL.Query()
	q := &model.CacheQuery{EntityType: entity}
	activeOnly := active != nil && *active

	switch entity {
	case types.EntityTypeUser:
		q.Users = model.UserFilter{
			ActiveOnly:   activeOnly,
			NameContains: query.Get("q"),
			Bridged:      bridged,
			Limit:        limit,
		}
		for _, id := range splitList(query.Get("ids")) {
			q.Users.IDs = append(q.Users.IDs, model.DirectoryUserID(id))
		}

	case types.EntityTypeRoom:
		q.Rooms = model.RoomFilter{
			ActiveOnly:   activeOnly,
			NameContains: query.Get("q"),
			Bridged:      bridged,
			MinMembers:   minMembers,
			Limit:        limit,
		}
		for _, id := range splitList(query.Get("ids")) {
			q.Rooms.IDs = append(q.Rooms.IDs, model.ChatRoomID(id))
		}

	case types.EntityTypeMembership:
		q.Members = model.MembershipFilter{
			RoomID: model.ChatRoomID(query.Get("room_id")),
			UserID: model.DirectoryUserID(query.Get("user_id")),
			Limit:  limit,
		}
		for _, raw := range splitList(query.Get("state")) {
			state, err := types.ParseMembershipState(raw)
			if err != nil {
				return nil, goerr.Wrap(errBadRequest, "invalid membership state", goerr.V("state", raw))
			}
			q.Members.States = append(q.Members.States, state)
		}
		if activeOnly && len(q.Members.States) == 0 {
			q.Members.States = []types.MembershipState{types.MembershipJoined, types.MembershipInvited}
		}
	}

	return q, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseSyncType(r *http.Request) (types.SyncType, error) {
	raw := chi.URLParam(r, "type")
	syncType, err := types.ParseSyncType(raw)
	if err != nil {
		return "", goerr.Wrap(usecase.ErrInvalidSyncType, "unknown sync type", goerr.V("type", raw))
	}
	return syncType, nil
}

func (s *Server) syncTriggerHandler(w http.ResponseWriter, r *http.Request) {
	syncType, err := parseSyncType(r)
	if err != nil {
		handleError(r, w, err)
		return
	}

	result, err := s.uc.Sync.TriggerSync(r.Context(), syncType, types.TriggerManual, actorOf(r, ""))
	if err != nil {
		handleError(r, w, err)
		return
	}

	resp := triggerResponse{
		Status: string(result.Status),
		RunID:  string(result.RunID),
	}
	status := http.StatusAccepted
	switch result.Status {
	case usecase.TriggerAlreadyRunning:
		status = http.StatusConflict
	case usecase.TriggerCoolingDown:
		status = http.StatusTooManyRequests
		seconds := int(math.Ceil(result.RetryAfter.Seconds()))
		resp.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeJSON(r.Context(), w, status, resp)
}

func (s *Server) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	syncType, err := parseSyncType(r)
	if err != nil {
		handleError(r, w, err)
		return
	}

	state, err := s.uc.Sync.GetStatus(r.Context(), syncType)
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, syncStateResponse{
		Type:          string(state.Type),
		LastRun:       toSyncRunResponse(state.LastRun),
		LastSuccess:   toSyncRunResponse(state.LastSuccess),
		LastAttemptAt: state.LastAttemptAt,
		LastSuccessAt: state.LastSuccessAt,
	})
}

func (s *Server) syncRunsHandler(w http.ResponseWriter, r *http.Request) {
	syncType, err := parseSyncType(r)
	if err != nil {
		handleError(r, w, err)
		return
	}
	limit, err := queryInt(r, "limit", s.maxListLimit)
	if err != nil {
		handleError(r, w, err)
		return
	}
	if limit == 0 {
		limit = 20
	}

	runs, err := s.uc.Sync.ListRuns(r.Context(), syncType, limit)
	if err != nil {
		handleError(r, w, err)
		return
	}
	resp := make([]*syncRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toSyncRunResponse(run))
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) dispatchSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(r, w, err)
		return
	}
	kind, err := types.ParseDispatchKind(req.Kind)
	if err != nil {
		handleError(r, w, goerr.Wrap(errBadRequest, "invalid dispatch kind", goerr.V("kind", req.Kind)))
		return
	}

	submit := usecase.SubmitRequest{
		Kind: kind,
		Users: model.UserFilter{
			NameContains: req.UserQuery,
			Bridged:      req.Bridged,
		},
		Payload:          model.DispatchPayload{Text: req.Text},
		ConcurrencyLimit: req.ConcurrencyLimit,
		Actor:            actorOf(r, req.Actor),
	}
	for _, id := range req.UserIDs {
		submit.Users.IDs = append(submit.Users.IDs, model.DirectoryUserID(id))
	}

	rooms := make([]model.ChatRoomID, 0, len(req.RoomIDs))
	for _, id := range req.RoomIDs {
		rooms = append(rooms, model.ChatRoomID(id))
	}
	if kind == types.DispatchInvite {
		submit.Payload.RoomIDs = rooms
	} else {
		submit.Rooms = model.RoomFilter{IDs: rooms, NameContains: req.RoomQuery, Bridged: req.Bridged}
	}

	id, err := s.uc.Dispatch.Submit(r.Context(), submit)
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"job_id": string(id)})
}

func (s *Server) dispatchListHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", s.maxListLimit)
	if err != nil {
		handleError(r, w, err)
		return
	}
	if limit == 0 {
		limit = 20
	}

	jobs, err := s.uc.Dispatch.ListJobs(r.Context(), limit)
	if err != nil {
		handleError(r, w, err)
		return
	}
	resp := make([]dispatchJobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toDispatchJobResponse(job))
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) dispatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.uc.Dispatch.GetStatus(r.Context(), model.DispatchJobID(chi.URLParam(r, "id")))
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, toDispatchStatusResponse(st))
}

func (s *Server) dispatchCancelHandler(w http.ResponseWriter, r *http.Request) {
	id := model.DispatchJobID(chi.URLParam(r, "id"))
	if err := s.uc.Dispatch.Cancel(r.Context(), id); err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"job_id": string(id), "status": "cancelling"})
}

func (s *Server) dispatchRetryHandler(w http.ResponseWriter, r *http.Request) {
	id := model.DispatchJobID(chi.URLParam(r, "id"))
	if err := s.uc.Dispatch.Retry(r.Context(), id); err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"job_id": string(id), "status": "retrying"})
}

func (s *Server) noteListHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entityType, err := types.ParseEntityType(query.Get("entity_type"))
	if err != nil {
		handleError(r, w, goerr.Wrap(usecase.ErrInvalidEntityType, "unknown note entity", goerr.V("entity_type", query.Get("entity_type"))))
		return
	}

	notes, err := s.uc.Note.List(r.Context(), entityType, query.Get("entity_id"))
	if err != nil {
		handleError(r, w, err)
		return
	}
	resp := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		resp = append(resp, toNoteResponse(n))
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) noteCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(r, w, err)
		return
	}
	entityType, err := types.ParseEntityType(req.EntityType)
	if err != nil {
		handleError(r, w, goerr.Wrap(usecase.ErrInvalidEntityType, "unknown note entity", goerr.V("entity_type", req.EntityType)))
		return
	}

	note, err := s.uc.Note.Create(r.Context(), entityType, req.EntityID, req.Body, actorOf(r, req.Author))
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, toNoteResponse(note))
}

func (s *Server) noteUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(r, w, err)
		return
	}

	note, err := s.uc.Note.Update(r.Context(), model.NoteID(chi.URLParam(r, "id")), req.Body)
	if err != nil {
		handleError(r, w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, toNoteResponse(note))
}

func (s *Server) noteDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Note.Delete(r.Context(), model.NoteID(chi.URLParam(r, "id"))); err != nil {
		handleError(r, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
