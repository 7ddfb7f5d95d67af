package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/utils/async"
	"github.com/secmon-lab/switchboard/pkg/utils/errutil"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/secmon-lab/switchboard/pkg/utils/retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var errJobCancelled = goerr.New("dispatch job cancelled")

// SubmitRequest describes a bulk operation. Users selects recipients of
// direct messages and invites; Rooms selects broadcast rooms. Invite rooms
// come from Payload.RoomIDs.
type SubmitRequest struct {
	Kind             types.DispatchKind
	Users            model.UserFilter
	Rooms            model.RoomFilter
	Payload          model.DispatchPayload
	ConcurrencyLimit int
	Actor            string
}

// DispatchStatus is the aggregate and itemized view of a job
type DispatchStatus struct {
	Job     *model.DispatchJob
	Summary model.DispatchSummary
	Results []*model.DispatchResult
}

// DispatchUseCase runs bulk invite and messaging jobs against the chat
// platform. It reads targets from the Cache Store and never writes directory
// records.
type DispatchUseCase struct {
	*UseCases

	// mu also orders wg.Add against Shutdown through closed
	mu      sync.Mutex
	running map[model.DispatchJobID]*jobRun
	closed  bool

	baseCtx context.Context
	cancel  context.CancelCauseFunc
	wg      sync.WaitGroup
}

type jobRun struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func newDispatchUseCase(parent *UseCases) *DispatchUseCase {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &DispatchUseCase{
		UseCases: parent,
		running:  make(map[model.DispatchJobID]*jobRun),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Submit snapshots the targets, records one pending result per target and
// starts the job in the background
func (uc *DispatchUseCase) Submit(ctx context.Context, req SubmitRequest) (model.DispatchJobID, error) {
	if uc.chat == nil {
		return "", goerr.Wrap(ErrProviderNotConfigured, "no chat provider for dispatch")
	}
	if !req.Kind.IsValid() {
		return "", goerr.Wrap(ErrInvalidRequest, "invalid dispatch kind", goerr.V("kind", req.Kind))
	}
	if uc.baseCtx.Err() != nil {
		return "", goerr.Wrap(ErrShutdown, "dispatch rejected")
	}

	tmpl, err := parseTemplate(req.Payload.Text)
	if err != nil {
		return "", err
	}

	targets, err := uc.resolveTargets(ctx, req)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		return "", goerr.Wrap(ErrNoTargets, "nothing to dispatch", goerr.V("kind", req.Kind))
	}
	if _, err := render(tmpl, targets[0]); err != nil {
		return "", goerr.Wrap(ErrInvalidTemplate, "template cannot be rendered", goerr.V("cause", err.Error()))
	}

	job := &model.DispatchJob{
		ID:      model.DispatchJobID(uuid.New().String()),
		Kind:    req.Kind,
		Targets: targets,
		Payload: model.DispatchPayload{
			Text:    req.Payload.Text,
			RoomIDs: append([]model.ChatRoomID(nil), req.Payload.RoomIDs...),
		},
		ConcurrencyLimit: uc.dispatchPolicy.concurrency(req.ConcurrencyLimit),
		Status:           types.JobStatusRunning,
		Actor:            req.Actor,
		CreatedAt:        uc.now(),
	}
	if err := job.Validate(); err != nil {
		return "", goerr.Wrap(ErrInvalidRequest, "invalid dispatch job", goerr.V("cause", err.Error()))
	}

	run, err := uc.reserve(ctx, job.ID)
	if err != nil {
		return "", err
	}

	if err := uc.repo.Dispatch().PutJob(ctx, job); err != nil {
		uc.release(job.ID, run)
		return "", goerr.Wrap(err, "failed to save dispatch job", goerr.V(model.JobIDKey, job.ID))
	}
	for _, t := range targets {
		pending := &model.DispatchResult{
			JobID:    job.ID,
			TargetID: t.ID,
			Outcome:  types.OutcomePending,
		}
		if err := uc.repo.Dispatch().PutResult(ctx, pending); err != nil {
			uc.release(job.ID, run)
			return "", goerr.Wrap(err, "failed to save pending result",
				goerr.V(model.JobIDKey, job.ID), goerr.V(model.TargetIDKey, t.ID))
		}
	}

	uc.auditDispatch(ctx, model.AuditDispatchSubmitted, job, map[string]any{
		"targets":     len(targets),
		"concurrency": job.ConcurrencyLimit,
	})
	logging.From(ctx).Info("dispatch job submitted",
		"job_id", job.ID, "kind", job.Kind, "targets", len(targets), "concurrency", job.ConcurrencyLimit)

	uc.launch(ctx, run, job, tmpl, targets)
	return job.ID, nil
}

// Retry re-runs the targets of a finished job that did not succeed. Their
// existing result records are updated; successful targets are left alone.
func (uc *DispatchUseCase) Retry(ctx context.Context, id model.DispatchJobID) error {
	job, err := uc.getJob(ctx, id)
	if err != nil {
		return err
	}
	tmpl, err := parseTemplate(job.Payload.Text)
	if err != nil {
		return err
	}

	run, err := uc.reserve(ctx, id)
	if err != nil {
		return err
	}

	results, err := uc.repo.Dispatch().ListResults(ctx, id)
	if err != nil {
		uc.release(id, run)
		return goerr.Wrap(err, "failed to list dispatch results", goerr.V(model.JobIDKey, id))
	}
	succeeded := make(map[model.TargetID]bool, len(results))
	for _, r := range results {
		succeeded[r.TargetID] = r.Outcome == types.OutcomeSuccess
	}

	var targets []model.DispatchTarget
	for _, t := range job.Targets {
		if !succeeded[t.ID] {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		uc.release(id, run)
		logging.From(ctx).Info("nothing to retry, every target succeeded", "job_id", id)
		return nil
	}

	for _, r := range results {
		if r.Outcome == types.OutcomeSuccess {
			continue
		}
		r.Outcome = types.OutcomePending
		r.Error = ""
		r.CompletedAt = time.Time{}
		if err := uc.repo.Dispatch().PutResult(ctx, r); err != nil {
			uc.release(id, run)
			return goerr.Wrap(err, "failed to reset dispatch result",
				goerr.V(model.JobIDKey, id), goerr.V(model.TargetIDKey, r.TargetID))
		}
	}

	job.Status = types.JobStatusRunning
	job.CompletedAt = time.Time{}
	if err := uc.repo.Dispatch().PutJob(ctx, job); err != nil {
		uc.release(id, run)
		return goerr.Wrap(err, "failed to save dispatch job", goerr.V(model.JobIDKey, id))
	}

	uc.auditDispatch(ctx, model.AuditDispatchSubmitted, job, map[string]any{
		"targets": len(targets),
		"retry":   true,
	})
	logging.From(ctx).Info("dispatch job retried", "job_id", id, "targets", len(targets))

	uc.launch(ctx, run, job, tmpl, targets)
	return nil
}

// Cancel stops handing targets to workers. Operations already in flight
// finish; targets never started are recorded as failed.
func (uc *DispatchUseCase) Cancel(ctx context.Context, id model.DispatchJobID) error {
	uc.mu.Lock()
	run, ok := uc.running[id]
	uc.mu.Unlock()

	if !ok {
		if _, err := uc.getJob(ctx, id); err != nil {
			return err
		}
		return goerr.Wrap(ErrJobNotRunning, "cannot cancel", goerr.V(model.JobIDKey, id))
	}

	run.cancel(errJobCancelled)
	logging.From(ctx).Info("dispatch job cancellation requested", "job_id", id)
	return nil
}

// Wait blocks until the job is no longer running
func (uc *DispatchUseCase) Wait(ctx context.Context, id model.DispatchJobID) error {
	uc.mu.Lock()
	run, ok := uc.running[id]
	uc.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "timed out waiting for dispatch job", goerr.V(model.JobIDKey, id))
	}
}

// GetStatus returns the job, its summary and every result
func (uc *DispatchUseCase) GetStatus(ctx context.Context, id model.DispatchJobID) (*DispatchStatus, error) {
	job, err := uc.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := uc.repo.Dispatch().ListResults(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list dispatch results", goerr.V(model.JobIDKey, id))
	}

	return &DispatchStatus{
		Job:     job,
		Summary: model.Summarize(len(job.Targets), results),
		Results: results,
	}, nil
}

// ListJobs returns recent jobs, newest first
func (uc *DispatchUseCase) ListJobs(ctx context.Context, limit int) ([]*model.DispatchJob, error) {
	jobs, err := uc.repo.Dispatch().ListJobs(ctx, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list dispatch jobs")
	}
	return jobs, nil
}

// Shutdown cancels every running job and waits for them to finalize.
// Submissions arriving afterwards are rejected with ErrShutdown.
func (uc *DispatchUseCase) Shutdown(ctx context.Context) error {
	uc.mu.Lock()
	uc.closed = true
	uc.mu.Unlock()

	uc.cancel(ErrShutdown)

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "timed out waiting for dispatch jobs")
	}
}

func (uc *DispatchUseCase) getJob(ctx context.Context, id model.DispatchJobID) (*model.DispatchJob, error) {
	job, err := uc.repo.Dispatch().GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, goerr.Wrap(ErrJobNotFound, "dispatch job does not exist", goerr.V(model.JobIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get dispatch job", goerr.V(model.JobIDKey, id))
	}
	return job, nil
}

// reserve registers a run for id unless one is already registered or
// shutdown has begun. Every reserved run is counted in wg until release.
func (uc *DispatchUseCase) reserve(ctx context.Context, id model.DispatchJobID) (*jobRun, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.closed {
		return nil, goerr.Wrap(ErrShutdown, "dispatch rejected", goerr.V(model.JobIDKey, id))
	}
	if _, ok := uc.running[id]; ok {
		return nil, goerr.Wrap(ErrJobRunning, "dispatch job is already running", goerr.V(model.JobIDKey, id))
	}
	jobCtx, cancel := context.WithCancelCause(uc.baseCtx)
	run := &jobRun{
		ctx:    logging.With(jobCtx, logging.From(ctx).With("job_id", id)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	uc.running[id] = run
	uc.wg.Add(1)
	return run, nil
}

func (uc *DispatchUseCase) release(id model.DispatchJobID, run *jobRun) {
	uc.mu.Lock()
	if uc.running[id] == run {
		delete(uc.running, id)
	}
	uc.mu.Unlock()

	run.cancel(nil)
	close(run.done)
	uc.wg.Done()
}

func (uc *DispatchUseCase) launch(ctx context.Context, run *jobRun, job *model.DispatchJob, tmpl *template.Template, targets []model.DispatchTarget) {
	async.Dispatch(ctx, "dispatch:"+string(job.ID), func(context.Context) error {
		defer uc.release(job.ID, run)
		return uc.execute(run.ctx, job, tmpl, targets)
	})
}

// execute feeds targets to a bounded worker pool and finalizes the job
func (uc *DispatchUseCase) execute(ctx context.Context, job *model.DispatchJob, tmpl *template.Template, targets []model.DispatchTarget) error {
	logger := logging.From(ctx)
	storeCtx := context.WithoutCancel(ctx)

	g := &gate{}
	var limiter *rate.Limiter
	if p := uc.dispatchPolicy; p.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), max(1, p.Burst))
	}

	var eg errgroup.Group
	eg.SetLimit(job.ConcurrencyLimit)
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			uc.runTarget(ctx, job, t, tmpl, g, limiter)
			return nil
		})
	}
	_ = eg.Wait()

	cancelled := ctx.Err() != nil
	if err := uc.failUnfinished(storeCtx, ctx, job, targets); err != nil {
		return err
	}

	job.Status = types.JobStatusCompleted
	if cancelled {
		job.Status = types.JobStatusCancelled
	}
	job.CompletedAt = uc.now()
	if err := uc.repo.Dispatch().PutJob(storeCtx, job); err != nil {
		return goerr.Wrap(err, "failed to save finished dispatch job", goerr.V(model.JobIDKey, job.ID))
	}

	results, err := uc.repo.Dispatch().ListResults(storeCtx, job.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to list dispatch results", goerr.V(model.JobIDKey, job.ID))
	}
	summary := model.Summarize(len(job.Targets), results)

	uc.auditDispatch(storeCtx, model.AuditDispatchFinished, job, map[string]any{
		"status":    string(job.Status),
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"total":     summary.Total,
	})
	logger.Info("dispatch job finished",
		"status", job.Status,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"total", summary.Total,
	)
	return nil
}

// failUnfinished records a failure for every target of this execution that
// has no terminal result, so that succeeded+failed equals total
func (uc *DispatchUseCase) failUnfinished(ctx, jobCtx context.Context, job *model.DispatchJob, targets []model.DispatchTarget) error {
	results, err := uc.repo.Dispatch().ListResults(ctx, job.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to list dispatch results", goerr.V(model.JobIDKey, job.ID))
	}
	byTarget := make(map[model.TargetID]*model.DispatchResult, len(results))
	for _, r := range results {
		byTarget[r.TargetID] = r
	}

	cause := context.Cause(jobCtx)
	if cause == nil {
		cause = goerr.New("target was not executed")
	}
	for _, t := range targets {
		r := byTarget[t.ID]
		if r != nil && r.Outcome.IsTerminal() {
			continue
		}
		attempts := 0
		if r != nil {
			attempts = r.Attempts
		}
		uc.recordResult(ctx, job, t, goerr.Wrap(cause, "target never started"), attempts)
	}
	return nil
}

func (uc *DispatchUseCase) runTarget(ctx context.Context, job *model.DispatchJob, t model.DispatchTarget, tmpl *template.Template, g *gate, limiter *rate.Limiter) {
	if ctx.Err() != nil {
		return
	}
	logger := logging.From(ctx).With("target_id", t.ID)
	storeCtx := context.WithoutCancel(ctx)

	prevAttempts := 0
	if prev, err := uc.repo.Dispatch().GetResult(storeCtx, job.ID, t.ID); err == nil {
		prevAttempts = prev.Attempts
	}

	text, err := render(tmpl, t)
	if err != nil {
		uc.recordResult(storeCtx, job, t, goerr.Wrap(ErrInvalidTemplate, "failed to render payload", goerr.V("cause", err.Error())), prevAttempts)
		return
	}

	p := uc.dispatchPolicy
	attempts, err := retry.Do(ctx, p.Retry, func(ctx context.Context, attempt int) error {
		// in-flight operations are not interrupted by job cancellation
		callCtx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
		if p.TargetTimeout > 0 {
			callCtx, cancel = context.WithTimeout(callCtx, p.TargetTimeout)
		}
		defer cancel()

		err := uc.perform(callCtx, job.Kind, t, text)
		if err != nil && callCtx.Err() != nil && !model.IsRetryable(err) {
			return goerr.Wrap(model.ErrTransientNetwork, "target operation timed out",
				goerr.V("attempt", attempt), goerr.V("cause", err.Error()))
		}
		return err
	},
		retry.WithBeforeAttempt(func(ctx context.Context) error {
			if err := g.wait(ctx); err != nil {
				return err
			}
			if limiter != nil {
				return limiter.Wait(ctx)
			}
			return nil
		}),
		retry.WithOnRateLimit(func(ctx context.Context, wait time.Duration) {
			logger.Warn("rate limited, pausing all workers of the job", "wait", wait.String())
			g.pause(wait)
		}),
	)

	uc.recordResult(storeCtx, job, t, err, prevAttempts+attempts)
}

func (uc *DispatchUseCase) perform(ctx context.Context, kind types.DispatchKind, t model.DispatchTarget, text string) error {
	switch kind {
	case types.DispatchInvite:
		return uc.chat.InviteToRoom(ctx, t.RoomID, t.UserID)
	case types.DispatchDirectMessage:
		return uc.chat.SendDirectMessage(ctx, t.UserID, text)
	case types.DispatchBroadcast:
		return uc.chat.PostToRoom(ctx, t.RoomID, text)
	default:
		return goerr.Wrap(model.ErrUpstreamRejected, "unsupported dispatch kind", goerr.V("kind", kind))
	}
}

// recordResult writes the terminal result of one target; err == nil is
// success
func (uc *DispatchUseCase) recordResult(ctx context.Context, job *model.DispatchJob, t model.DispatchTarget, err error, attempts int) {
	result := &model.DispatchResult{
		JobID:       job.ID,
		TargetID:    t.ID,
		Outcome:     types.OutcomeSuccess,
		Attempts:    attempts,
		CompletedAt: uc.now(),
	}
	if err != nil {
		result.Outcome = types.OutcomeFailure
		result.Error = err.Error()
	}

	if putErr := uc.repo.Dispatch().PutResult(ctx, result); putErr != nil {
		errutil.Handle(ctx, goerr.Wrap(putErr, "failed to save dispatch result",
			goerr.V(model.JobIDKey, job.ID), goerr.V(model.TargetIDKey, t.ID)), "dispatch result lost")
		return
	}

	details := map[string]any{
		"target_id": string(t.ID),
		"outcome":   string(result.Outcome),
		"attempts":  result.Attempts,
	}
	if result.Error != "" {
		details["error"] = result.Error
	}
	uc.auditDispatch(ctx, model.AuditDispatchResult, job, details)
}

// resolveTargets reads the target snapshot from the cache. Inactive users and
// rooms are never targeted; invites skip users already in the room.
func (uc *DispatchUseCase) resolveTargets(ctx context.Context, req SubmitRequest) ([]model.DispatchTarget, error) {
	var targets []model.DispatchTarget

	switch req.Kind {
	case types.DispatchDirectMessage:
		filter := req.Users
		filter.ActiveOnly = true
		users, err := uc.repo.DirectoryUser().List(ctx, filter)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve message recipients")
		}
		for _, u := range users {
			targets = append(targets, model.NewUserTarget(u))
		}

	case types.DispatchBroadcast:
		filter := req.Rooms
		filter.ActiveOnly = true
		rooms, err := uc.repo.ChatRoom().List(ctx, filter)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve broadcast rooms")
		}
		for _, r := range rooms {
			targets = append(targets, model.NewRoomTarget(r))
		}

	case types.DispatchInvite:
		if len(req.Payload.RoomIDs) == 0 {
			return nil, goerr.Wrap(ErrInvalidRequest, "invite requires at least one room")
		}
		filter := req.Users
		filter.ActiveOnly = true
		users, err := uc.repo.DirectoryUser().List(ctx, filter)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve invitees")
		}

		for _, roomID := range req.Payload.RoomIDs {
			room, err := uc.repo.ChatRoom().Get(ctx, roomID)
			if errors.Is(err, model.ErrNotFound) || (err == nil && !room.Active) {
				return nil, goerr.Wrap(ErrEntityNotFound, "invite room is not an active cached room", goerr.V("room_id", roomID))
			}
			if err != nil {
				return nil, goerr.Wrap(err, "failed to get invite room", goerr.V("room_id", roomID))
			}

			for _, u := range users {
				m, err := uc.repo.Membership().Get(ctx, model.MembershipKey{RoomID: room.ID, UserID: u.ID})
				if err == nil && m.State.IsActive() {
					continue
				}
				if err != nil && !errors.Is(err, model.ErrNotFound) {
					return nil, goerr.Wrap(err, "failed to check membership",
						goerr.V("room_id", room.ID), goerr.V("user_id", u.ID))
				}
				targets = append(targets, model.NewInviteTarget(u, room))
			}
		}
	}

	return targets, nil
}

type templateData struct {
	UserID      string
	DisplayName string
	RoomID      string
	RoomName    string
}

// parseTemplate returns nil for an empty text
func parseTemplate(text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	tmpl, err := template.New("payload").Parse(text)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidTemplate, "failed to parse message template", goerr.V("cause", err.Error()))
	}
	return tmpl, nil
}

func render(tmpl *template.Template, t model.DispatchTarget) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, templateData{
		UserID:      string(t.UserID),
		DisplayName: t.DisplayName,
		RoomID:      string(t.RoomID),
		RoomName:    t.RoomName,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// gate pauses every worker of a job after a rate-limit response
type gate struct {
	mu    sync.Mutex
	until time.Time
}

func (g *gate) pause(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := time.Now().Add(d); until.After(g.until) {
		g.until = until
	}
}

func (g *gate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		d := time.Until(g.until)
		g.mu.Unlock()

		if d <= 0 {
			return nil
		}
		if err := retry.Sleep(ctx, d); err != nil {
			return err
		}
	}
}
