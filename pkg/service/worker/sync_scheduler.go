package worker

import (
	"context"
	"slices"
	"time"

	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/secmon-lab/switchboard/pkg/utils/errutil"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
)

// SyncTrigger is the part of the sync use case driven by the scheduler
type SyncTrigger interface {
	TriggerSync(ctx context.Context, syncType types.SyncType, trigger types.TriggerSource, actor string) (*usecase.TriggerResult, error)
	NeedsWarmup(ctx context.Context, syncType types.SyncType) (bool, error)
}

// Schedule triggers one sync type at a fixed interval
type Schedule struct {
	Type     types.SyncType
	Interval time.Duration
}

const schedulerActor = "scheduler"

// SyncScheduler is the single long-lived goroutine issuing scheduled sync
// triggers. It never waits for a run: triggers are fire-and-forget and a
// trigger hitting a running sync is dropped by single-flight.
type SyncScheduler struct {
	sync      SyncTrigger
	schedules []Schedule
	now       func() time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSyncScheduler creates a scheduler. Schedules with a non-positive
// interval are ignored.
func NewSyncScheduler(sync SyncTrigger, schedules ...Schedule) *SyncScheduler {
	var active []Schedule
	for _, s := range schedules {
		if s.Interval > 0 {
			active = append(active, s)
		}
	}
	return &SyncScheduler{
		sync:      sync,
		schedules: active,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the scheduling loop
// - Warm-up triggers for never-synced types run first, in the background
// - Does not block server startup
func (w *SyncScheduler) Start(ctx context.Context) error {
	for _, s := range w.schedules {
		logging.From(ctx).Info("sync scheduler registered",
			"sync_type", s.Type, "interval", s.Interval.String())
	}

	go w.run(ctx)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to exit. Runs
// already triggered keep going; they are stopped by the use case shutdown.
func (w *SyncScheduler) Stop() {
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("sync scheduler stopped")
}

func (w *SyncScheduler) run(ctx context.Context) {
	defer close(w.doneCh)

	w.warmup(ctx)
	if len(w.schedules) == 0 {
		select {
		case <-w.stopCh:
		case <-ctx.Done():
		}
		return
	}

	next := make([]time.Time, len(w.schedules))
	tick := w.schedules[0].Interval
	for i, s := range w.schedules {
		next[i] = w.now().Add(s.Interval)
		tick = min(tick, s.Interval)
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := w.now()
			for i, s := range w.schedules {
				if now.Before(next[i]) {
					continue
				}
				next[i] = now.Add(s.Interval)
				w.trigger(ctx, s.Type, types.TriggerScheduled)
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.From(ctx).Info("sync scheduler context cancelled")
			return
		}
	}
}

// warmup triggers the scheduled types that have never run. Runs are
// asynchronous, so separate triggers would race each other: memberships
// would read an empty room cache, and a full warm-up would find the
// component locks taken. When more than one type is cold a single full run
// is triggered instead, which syncs users, rooms and memberships in order.
func (w *SyncScheduler) warmup(ctx context.Context) {
	var cold []types.SyncType
	for _, s := range w.schedules {
		if slices.Contains(cold, s.Type) {
			continue
		}
		need, err := w.sync.NeedsWarmup(ctx, s.Type)
		if err != nil {
			errutil.Handle(ctx, err, "failed to check sync warm-up")
			continue
		}
		if need {
			cold = append(cold, s.Type)
		}
	}

	switch len(cold) {
	case 0:
		return
	case 1:
		w.trigger(ctx, cold[0], types.TriggerWarmup)
	default:
		logging.From(ctx).Info("warming up with a full sync", "cold_types", cold)
		w.trigger(ctx, types.SyncTypeFull, types.TriggerWarmup)
	}
}

func (w *SyncScheduler) trigger(ctx context.Context, syncType types.SyncType, source types.TriggerSource) {
	res, err := w.sync.TriggerSync(ctx, syncType, source, schedulerActor)
	if err != nil {
		// Log error but keep the scheduler alive
		errutil.Handle(ctx, err, "scheduled sync trigger failed")
		return
	}

	logging.From(ctx).Debug("scheduled sync triggered",
		"sync_type", syncType,
		"trigger", source,
		"status", res.Status,
		"run_id", res.RunID)
}
