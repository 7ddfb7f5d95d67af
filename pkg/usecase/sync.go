package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/service/fetch"
	"github.com/secmon-lab/switchboard/pkg/utils/async"
	"github.com/secmon-lab/switchboard/pkg/utils/errutil"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// TriggerStatus is the answer to a sync trigger
type TriggerStatus string

const (
	TriggerAccepted       TriggerStatus = "accepted"
	TriggerAlreadyRunning TriggerStatus = "alreadyRunning"
	TriggerCoolingDown    TriggerStatus = "coolingDown"
)

// TriggerResult describes what happened to a trigger. RunID is set only when
// the trigger was accepted.
type TriggerResult struct {
	Status     TriggerStatus
	RunID      model.SyncRunID
	RetryAfter time.Duration
}

// SyncUseCase orchestrates directory syncs. Each accepted trigger runs in its
// own goroutine; single-flight per sync type is enforced by the locker.
type SyncUseCase struct {
	*UseCases

	// mu also orders wg.Add against Shutdown through closed
	mu          sync.Mutex
	lastTrigger map[cooldownKey]time.Time
	closed      bool

	baseCtx context.Context
	cancel  context.CancelCauseFunc
	wg      sync.WaitGroup
}

func newSyncUseCase(parent *UseCases) *SyncUseCase {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &SyncUseCase{
		UseCases:    parent,
		lastTrigger: make(map[cooldownKey]time.Time),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// TriggerSync accepts or rejects a sync request without waiting for the run.
// A run already holding the lock yields TriggerAlreadyRunning; a manual or
// event trigger inside its cooldown window yields TriggerCoolingDown.
func (uc *SyncUseCase) TriggerSync(ctx context.Context, syncType types.SyncType, trigger types.TriggerSource, actor string) (*TriggerResult, error) {
	if !uc.track() {
		return nil, goerr.Wrap(ErrShutdown, "sync trigger rejected", goerr.V(model.SyncTypeKey, syncType))
	}

	result, run, release, err := uc.accept(ctx, syncType, trigger, actor)
	if err != nil || run == nil {
		uc.wg.Done()
		return result, err
	}

	execCtx := logging.With(uc.baseCtx, logging.From(ctx))
	async.Dispatch(ctx, "sync:"+string(syncType), func(context.Context) error {
		defer uc.wg.Done()
		defer release(context.Background())

		_, err := uc.execute(execCtx, run, actor)
		return err
	})

	return result, nil
}

// RunSync executes a sync in the calling goroutine and returns the finished
// run. A held lock or cooldown is reported as model.ErrConcurrencyConflict.
func (uc *SyncUseCase) RunSync(ctx context.Context, syncType types.SyncType, trigger types.TriggerSource, actor string) (*model.SyncRun, error) {
	result, run, release, err := uc.accept(ctx, syncType, trigger, actor)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, goerr.Wrap(model.ErrConcurrencyConflict, "sync not started",
			goerr.V(model.SyncTypeKey, syncType), goerr.V("status", result.Status))
	}
	defer release(context.WithoutCancel(ctx))

	return uc.execute(ctx, run, actor)
}

// GetStatus returns the latest run and the latest successful run of a type
func (uc *SyncUseCase) GetStatus(ctx context.Context, syncType types.SyncType) (*model.SyncState, error) {
	if !syncType.IsValid() {
		return nil, goerr.Wrap(ErrInvalidSyncType, "cannot get sync status", goerr.V(model.SyncTypeKey, syncType))
	}

	last, err := uc.repo.SyncRun().Latest(ctx, syncType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get latest sync run", goerr.V(model.SyncTypeKey, syncType))
	}
	success, err := uc.repo.SyncRun().LatestSuccessful(ctx, syncType)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get latest successful sync run", goerr.V(model.SyncTypeKey, syncType))
	}

	state := &model.SyncState{
		Type:        syncType,
		LastRun:     last,
		LastSuccess: success,
	}
	if last != nil {
		state.LastAttemptAt = last.CreatedAt
	}
	if success != nil {
		state.LastSuccessAt = success.CompletedAt
	}
	return state, nil
}

// ListRuns returns recent runs of a type, newest first
func (uc *SyncUseCase) ListRuns(ctx context.Context, syncType types.SyncType, limit int) ([]*model.SyncRun, error) {
	if !syncType.IsValid() {
		return nil, goerr.Wrap(ErrInvalidSyncType, "cannot list sync runs", goerr.V(model.SyncTypeKey, syncType))
	}
	runs, err := uc.repo.SyncRun().List(ctx, syncType, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sync runs", goerr.V(model.SyncTypeKey, syncType))
	}
	return runs, nil
}

// NeedsWarmup reports whether the type has never been synced. A full run
// counts as a run of each of its components.
func (uc *SyncUseCase) NeedsWarmup(ctx context.Context, syncType types.SyncType) (bool, error) {
	for _, t := range []types.SyncType{syncType, types.SyncTypeFull} {
		last, err := uc.repo.SyncRun().Latest(ctx, t)
		if err != nil {
			return false, goerr.Wrap(err, "failed to get latest sync run", goerr.V(model.SyncTypeKey, t))
		}
		if last != nil {
			return false, nil
		}
	}
	return true, nil
}

// Wait blocks until every background run has finished
func (uc *SyncUseCase) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "timed out waiting for sync runs")
	}
}

// track registers a background run unless shutdown has begun
func (uc *SyncUseCase) track() bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return false
	}
	uc.wg.Add(1)
	return true
}

// Shutdown cancels background runs, which finish as CANCELLED, and waits
// for them. Triggers arriving afterwards are rejected with ErrShutdown.
func (uc *SyncUseCase) Shutdown(ctx context.Context) error {
	uc.mu.Lock()
	uc.closed = true
	uc.mu.Unlock()

	uc.cancel(ErrShutdown)
	return uc.Wait(ctx)
}

type releaseFunc func(ctx context.Context)

// accept validates a trigger, takes the single-flight locks and records the
// PENDING run. run is nil when the trigger was not accepted.
func (uc *SyncUseCase) accept(ctx context.Context, syncType types.SyncType, trigger types.TriggerSource, actor string) (*TriggerResult, *model.SyncRun, releaseFunc, error) {
	if !syncType.IsValid() {
		return nil, nil, nil, goerr.Wrap(ErrInvalidSyncType, "cannot trigger sync", goerr.V(model.SyncTypeKey, syncType))
	}
	if !trigger.IsValid() {
		return nil, nil, nil, goerr.New("invalid trigger source", goerr.V("trigger", trigger))
	}
	if uc.baseCtx.Err() != nil {
		return nil, nil, nil, goerr.Wrap(ErrShutdown, "sync trigger rejected", goerr.V(model.SyncTypeKey, syncType))
	}

	release, ok, err := uc.acquire(ctx, syncType)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		logging.From(ctx).Info("sync already running", "sync_type", syncType, "trigger", trigger)
		return &TriggerResult{Status: TriggerAlreadyRunning}, nil, nil, nil
	}

	now := uc.now()
	if wait := uc.checkCooldown(trigger, syncType, now); wait > 0 {
		release(ctx)
		logging.From(ctx).Info("sync trigger cooling down", "sync_type", syncType, "trigger", trigger, "retry_after", wait)
		return &TriggerResult{Status: TriggerCoolingDown, RetryAfter: wait}, nil, nil, nil
	}

	run := model.NewSyncRun(model.SyncRunID(uuid.New().String()), syncType, trigger, now)
	if syncType != types.SyncTypeUsers {
		run.Mode = types.SyncModeFull
	}
	if err := uc.repo.SyncRun().Put(ctx, run); err != nil {
		release(ctx)
		return nil, nil, nil, goerr.Wrap(err, "failed to save sync run", goerr.V(model.SyncTypeKey, syncType))
	}
	uc.auditSyncRun(ctx, actor, run)

	return &TriggerResult{Status: TriggerAccepted, RunID: run.ID}, run, release, nil
}

type cooldownKey struct {
	trigger  types.TriggerSource
	syncType types.SyncType
}

func (uc *SyncUseCase) cooldown(trigger types.TriggerSource) time.Duration {
	switch trigger {
	case types.TriggerManual:
		return uc.syncPolicy.ManualCooldown
	case types.TriggerEvent:
		return uc.syncPolicy.EventCooldown
	default:
		return 0
	}
}

// checkCooldown records an accepted trigger and returns the remaining wait
// when the previous one of the same source and type is too recent
func (uc *SyncUseCase) checkCooldown(trigger types.TriggerSource, syncType types.SyncType, now time.Time) time.Duration {
	window := uc.cooldown(trigger)
	if window <= 0 {
		return 0
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	key := cooldownKey{trigger: trigger, syncType: syncType}
	if last, ok := uc.lastTrigger[key]; ok {
		if elapsed := now.Sub(last); elapsed < window {
			return window - elapsed
		}
	}
	uc.lastTrigger[key] = now
	return 0
}

// lockKeys returns the locks a run must hold. A full run also excludes the
// single-entity runs it covers.
func lockKeys(syncType types.SyncType) []string {
	keys := []string{"sync:" + string(syncType)}
	if syncType == types.SyncTypeFull {
		for _, c := range syncType.Components() {
			keys = append(keys, "sync:"+string(c))
		}
	}
	return keys
}

func (uc *SyncUseCase) acquire(ctx context.Context, syncType types.SyncType) (releaseFunc, bool, error) {
	var unlocks []func(context.Context) error
	release := func(ctx context.Context) {
		for i := len(unlocks) - 1; i >= 0; i-- {
			if err := unlocks[i](ctx); err != nil {
				errutil.Handle(ctx, err, "failed to release sync lock")
			}
		}
	}

	for _, key := range lockKeys(syncType) {
		unlock, ok, err := uc.locker.TryLock(ctx, key, uc.syncPolicy.lockTTL())
		if err != nil {
			release(ctx)
			return nil, false, goerr.Wrap(err, "failed to acquire sync lock", goerr.V("key", key))
		}
		if !ok {
			release(ctx)
			return nil, false, nil
		}
		unlocks = append(unlocks, unlock)
	}
	return release, true, nil
}

// runTracker serialises updates of a run shared by fan-out goroutines
type runTracker struct {
	mu       sync.Mutex
	run      *model.SyncRun
	warnings []string
}

func (t *runTracker) update(fn func(r *model.SyncRun)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.run)
}

func (t *runTracker) snapshot() *model.SyncRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := *t.run
	return &c
}

func (t *runTracker) warn(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warnings = append(t.warnings, msg)
}

func (uc *SyncUseCase) save(ctx context.Context, tr *runTracker) {
	if err := uc.repo.SyncRun().Put(ctx, tr.snapshot()); err != nil {
		errutil.Handle(ctx, err, "failed to save sync run progress")
	}
}

// execute drives one accepted run to a terminal state
func (uc *SyncUseCase) execute(ctx context.Context, run *model.SyncRun, actor string) (*model.SyncRun, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, uc.syncPolicy.RunTimeout, ErrRunTimeout)
	defer cancel()

	logger := logging.From(ctx).With("sync_run_id", run.ID, "sync_type", run.Type, "trigger", run.Trigger)
	ctx = logging.With(ctx, logger)
	storeCtx := context.WithoutCancel(ctx)

	tr := &runTracker{run: run}
	if ctx.Err() != nil {
		// cancelled between acceptance and start
		return uc.finish(storeCtx, ctx, tr, actor, goerr.Wrap(context.Cause(ctx), "sync run cancelled before start"))
	}

	var startErr error
	tr.update(func(r *model.SyncRun) { startErr = r.Start(uc.now()) })
	if startErr != nil {
		return nil, goerr.Wrap(startErr, "failed to start sync run")
	}
	uc.save(storeCtx, tr)
	uc.auditSyncRun(ctx, actor, tr.snapshot())
	logger.Info("sync run started")

	var errs []error
	for _, component := range run.Type.Components() {
		if ctx.Err() != nil {
			errs = append(errs, context.Cause(ctx))
			break
		}

		var err error
		switch component {
		case types.SyncTypeUsers:
			err = uc.syncUsers(ctx, tr)
		case types.SyncTypeRooms:
			err = uc.syncRooms(ctx, tr)
		case types.SyncTypeMemberships:
			err = uc.syncMemberships(ctx, tr)
		}
		if err != nil {
			errs = append(errs, goerr.Wrap(err, "sync component failed", goerr.V("component", component)))
		}
	}

	return uc.finish(storeCtx, ctx, tr, actor, errors.Join(errs...))
}

// finish picks the terminal status from the run error and the run context
func (uc *SyncUseCase) finish(ctx, runCtx context.Context, tr *runTracker, actor string, runErr error) (*model.SyncRun, error) {
	status := types.SyncStatusCompleted
	if runErr != nil {
		status = types.SyncStatusFailed
		cause := context.Cause(runCtx)
		switch {
		case errors.Is(cause, ErrRunTimeout):
			runErr = goerr.Wrap(ErrRunTimeout, "sync run failed", goerr.V("cause", runErr.Error()))
		case errors.Is(cause, ErrShutdown), errors.Is(cause, context.Canceled):
			status = types.SyncStatusCancelled
		}
	}

	var finishErr error
	tr.update(func(r *model.SyncRun) {
		finishErr = r.Finish(status, uc.now(), runErr)
		if finishErr == nil && runErr == nil && len(tr.warnings) > 0 {
			r.Error = strings.Join(tr.warnings, "; ")
		}
	})
	if finishErr != nil {
		return nil, goerr.Wrap(finishErr, "failed to finish sync run")
	}

	final := tr.snapshot()
	if err := uc.repo.SyncRun().Put(ctx, final); err != nil {
		return nil, goerr.Wrap(err, "failed to save finished sync run", goerr.V(model.SyncRunIDKey, final.ID))
	}
	uc.auditSyncRun(ctx, actor, final)

	logger := logging.From(ctx)
	attrs := []any{
		"status", final.Status,
		"mode", final.Mode,
		"items_seen", final.ItemsSeen,
		"items_processed", final.ItemsProcessed,
		"items_skipped", final.ItemsSkipped,
		"duration", final.Duration().String(),
	}
	if runErr != nil {
		logger.Warn("sync run finished with error", append(attrs, "error", runErr.Error())...)
		return final, goerr.Wrap(runErr, "sync run did not complete", goerr.V(model.SyncRunIDKey, final.ID))
	}
	logger.Info("sync run finished", attrs...)
	return final, nil
}

type record interface {
	Validate() error
}

// applyPages writes every valid record of every page and returns them.
// Pages are applied in fetch order; an error stops at the failing page and
// keeps what was already written.
func applyPages[T record](ctx context.Context, uc *SyncUseCase, tr *runTracker, f *fetch.Fetcher[T], upsert func(ctx context.Context, items []T) error, trackCursor bool) ([]T, error) {
	var applied []T
	for items, err := range f.Pages(ctx) {
		if err != nil {
			return applied, err
		}

		valid := make([]T, 0, len(items))
		for _, item := range items {
			if err := item.Validate(); err != nil {
				logging.From(ctx).Warn("skipping invalid record", "error", err.Error())
				continue
			}
			valid = append(valid, item)
		}
		if len(valid) > 0 {
			if err := upsert(ctx, valid); err != nil {
				return applied, goerr.Wrap(err, "failed to write page")
			}
		}
		applied = append(applied, valid...)

		stats := f.Stats()
		tr.update(func(r *model.SyncRun) {
			r.ItemsSeen += len(items)
			r.ItemsProcessed += len(valid)
			r.ItemsSkipped += len(items) - len(valid)
			if trackCursor {
				r.LastPage = stats.LastPage
				r.LastCursor = stats.LastCursor
			}
		})
		uc.save(context.WithoutCancel(ctx), tr)
	}

	if f.Stats().LowConfidence {
		tr.update(func(r *model.SyncRun) { r.LowConfidence = true })
	}
	return applied, nil
}

func fetchOptions[T any](p SyncPolicy, key func(T) string) []fetch.Option[T] {
	return []fetch.Option[T]{
		fetch.WithPageSize[T](p.PageSize),
		fetch.WithMaxPages[T](p.MaxPages),
		fetch.WithRecoveryMargin[T](p.RecoveryMargin),
		fetch.WithPageTimeout[T](p.PageTimeout),
		fetch.WithRetryPolicy[T](p.Retry),
		fetch.WithKey(key),
	}
}

func (uc *SyncUseCase) syncUsers(ctx context.Context, tr *runTracker) error {
	if uc.directory == nil {
		return goerr.Wrap(ErrProviderNotConfigured, "no directory provider for user sync")
	}
	logger := logging.From(ctx)

	mode := types.SyncModeFull
	var since time.Time
	if tr.snapshot().Type == types.SyncTypeUsers {
		var reason string
		var err error
		mode, since, reason, err = uc.decideUserMode(ctx)
		if err != nil {
			return err
		}
		tr.update(func(r *model.SyncRun) { r.Mode = mode })
		logger.Info("user sync mode decided", "mode", mode, "reason", reason)
	}

	opts := fetchOptions(uc.syncPolicy, func(u *model.DirectoryUser) string { return string(u.ID) })
	if mode == types.SyncModeIncremental {
		opts = append(opts, fetch.WithModifiedSince[*model.DirectoryUser](since))
	}
	f := fetch.New(uc.directory.ListUsers, opts...)

	now := uc.now()
	users, err := applyPages(ctx, uc, tr, f, func(ctx context.Context, users []*model.DirectoryUser) error {
		for _, u := range users {
			u.SyncedAt = now
		}
		return uc.repo.DirectoryUser().Upsert(ctx, users)
	}, true)
	if err != nil {
		return goerr.Wrap(err, "failed to fetch directory users", goerr.V("last_page", f.Stats().LastPage))
	}
	uc.warnLowConfidence(ctx, f.Stats(), "users")

	if mode != types.SyncModeFull {
		return nil
	}
	seen := make([]model.DirectoryUserID, len(users))
	for i, u := range users {
		seen[i] = u.ID
	}
	n, err := uc.repo.DirectoryUser().MarkStaleExcept(ctx, seen)
	if err != nil {
		return goerr.Wrap(err, "failed to reconcile directory users")
	}
	logger.Info("directory users reconciled", "seen", len(seen), "deactivated", n)
	return nil
}

// decideUserMode chooses incremental only when the provider supports it, the
// last success is fresh and the provider count agrees with the cache
func (uc *SyncUseCase) decideUserMode(ctx context.Context) (types.SyncMode, time.Time, string, error) {
	if !uc.directory.SupportsModifiedSince() {
		return types.SyncModeFull, time.Time{}, "modified-since not supported", nil
	}

	last, err := uc.lastUserSuccess(ctx)
	if err != nil {
		return "", time.Time{}, "", err
	}
	if last == nil {
		return types.SyncModeFull, time.Time{}, "no successful sync", nil
	}
	if uc.now().Sub(last.CompletedAt) > uc.syncPolicy.StalenessWindow {
		return types.SyncModeFull, time.Time{}, "last success is stale", nil
	}

	remote, ok, err := uc.directory.CountUsers(ctx)
	if err != nil {
		logging.From(ctx).Warn("user count check failed", "error", err.Error())
		return types.SyncModeFull, time.Time{}, "count check failed", nil
	}
	if !ok {
		return types.SyncModeFull, time.Time{}, "provider gives no count", nil
	}
	cached, err := uc.repo.DirectoryUser().Count(ctx)
	if err != nil {
		return "", time.Time{}, "", goerr.Wrap(err, "failed to count cached users")
	}
	if diff := remote - cached; diff > uc.syncPolicy.CountEpsilon || -diff > uc.syncPolicy.CountEpsilon {
		return types.SyncModeFull, time.Time{}, fmt.Sprintf("count drift: remote %d, cached %d", remote, cached), nil
	}

	return types.SyncModeIncremental, last.StartedAt, "cache is consistent", nil
}

// lastUserSuccess is the newer of the last successful users run and full run
func (uc *SyncUseCase) lastUserSuccess(ctx context.Context) (*model.SyncRun, error) {
	var latest *model.SyncRun
	for _, t := range []types.SyncType{types.SyncTypeUsers, types.SyncTypeFull} {
		run, err := uc.repo.SyncRun().LatestSuccessful(ctx, t)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get last successful sync", goerr.V(model.SyncTypeKey, t))
		}
		if run != nil && (latest == nil || run.StartedAt.After(latest.StartedAt)) {
			latest = run
		}
	}
	return latest, nil
}

func (uc *SyncUseCase) warnLowConfidence(ctx context.Context, stats fetch.Stats, what string) {
	if stats.LowConfidence {
		logging.From(ctx).Warn("provider reported no total count, truncated listings cannot be detected",
			"listing", what, "items_seen", stats.ItemsSeen)
	}
}

func (uc *SyncUseCase) syncRooms(ctx context.Context, tr *runTracker) error {
	if uc.chat == nil {
		return goerr.Wrap(ErrProviderNotConfigured, "no chat provider for room sync")
	}

	f := fetch.New(uc.chat.ListRooms, fetchOptions(uc.syncPolicy, func(r *model.ChatRoom) string { return string(r.ID) })...)
	now := uc.now()
	rooms, err := applyPages(ctx, uc, tr, f, func(ctx context.Context, rooms []*model.ChatRoom) error {
		for _, r := range rooms {
			r.SyncedAt = now
		}
		return uc.repo.ChatRoom().Upsert(ctx, rooms)
	}, true)
	if err != nil {
		return goerr.Wrap(err, "failed to fetch chat rooms", goerr.V("last_page", f.Stats().LastPage))
	}
	uc.warnLowConfidence(ctx, f.Stats(), "rooms")

	seen := make([]model.ChatRoomID, len(rooms))
	for i, r := range rooms {
		seen[i] = r.ID
	}
	n, err := uc.repo.ChatRoom().MarkStaleExcept(ctx, seen)
	if err != nil {
		return goerr.Wrap(err, "failed to reconcile chat rooms")
	}
	logging.From(ctx).Info("chat rooms reconciled", "seen", len(seen), "deactivated", n)
	return nil
}

const maxReportedRoomErrors = 5

// syncMemberships fans out over cached active rooms. A failing room is
// skipped and reported; the component fails only when every room failed.
func (uc *SyncUseCase) syncMemberships(ctx context.Context, tr *runTracker) error {
	if uc.chat == nil {
		return goerr.Wrap(ErrProviderNotConfigured, "no chat provider for membership sync")
	}
	logger := logging.From(ctx)

	rooms, err := uc.repo.ChatRoom().List(ctx, model.RoomFilter{
		ActiveOnly: true,
		MinMembers: uc.syncPolicy.MinRoomMembers,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to list rooms for membership sync")
	}

	var (
		eg       errgroup.Group
		mu       sync.Mutex
		failures []string
	)
	eg.SetLimit(max(1, uc.syncPolicy.RoomConcurrency))

	for _, room := range rooms {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return context.Cause(ctx)
			}
			if err := uc.syncRoomMembers(ctx, tr, room); err != nil {
				if ctx.Err() != nil {
					return err
				}
				logger.Warn("room membership sync failed", "room_id", room.ID, "error", err.Error())
				tr.update(func(r *model.SyncRun) { r.ItemsSkipped++ })

				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %s", room.ID, err.Error()))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return goerr.Wrap(err, "membership sync interrupted")
	}

	if len(failures) == 0 {
		logger.Info("memberships synced", "rooms", len(rooms))
		return nil
	}
	if len(failures) == len(rooms) {
		return goerr.New("membership sync failed for every room",
			goerr.V("rooms", len(rooms)), goerr.V("first_error", failures[0]))
	}

	reported := failures[:min(len(failures), maxReportedRoomErrors)]
	tr.warn(fmt.Sprintf("membership sync failed for %d of %d rooms: %s",
		len(failures), len(rooms), strings.Join(reported, "; ")))
	return nil
}

func (uc *SyncUseCase) syncRoomMembers(ctx context.Context, tr *runTracker, room *model.ChatRoom) error {
	list := func(ctx context.Context, req model.PageRequest) (*model.Page[*model.Membership], error) {
		page, err := uc.chat.ListRoomMembers(ctx, room.ID, req)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Items {
			m.RoomID = room.ID
		}
		return page, nil
	}
	f := fetch.New(list, fetchOptions(uc.syncPolicy, func(m *model.Membership) string { return string(m.UserID) })...)

	now := uc.now()
	members, err := applyPages(ctx, uc, tr, f, func(ctx context.Context, members []*model.Membership) error {
		for _, m := range members {
			m.SyncedAt = now
		}
		return uc.repo.Membership().Upsert(ctx, members)
	}, false)
	if err != nil {
		return goerr.Wrap(err, "failed to fetch room members", goerr.V("room_id", room.ID))
	}

	seen := make([]model.DirectoryUserID, len(members))
	for i, m := range members {
		seen[i] = m.UserID
	}
	if _, err := uc.repo.Membership().MarkStaleExcept(ctx, room.ID, seen); err != nil {
		return goerr.Wrap(err, "failed to reconcile room members", goerr.V("room_id", room.ID))
	}
	return nil
}
