package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/usecase"
)

func TestSyncUseCase_TriggerSync(t *testing.T) {
	t.Run("concurrent triggers run once", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(3))
		env.dir.block = make(chan struct{})
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make([]*usecase.TriggerResult, 2)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
				gt.NoError(t, err)
				results[i] = res
			}()
		}
		wg.Wait()

		statuses := map[usecase.TriggerStatus]int{}
		for _, r := range results {
			gt.Value(t, r).NotNil().Required()
			statuses[r.Status]++
		}
		gt.Number(t, statuses[usecase.TriggerAccepted]).Equal(1)
		gt.Number(t, statuses[usecase.TriggerAlreadyRunning]).Equal(1)

		close(env.dir.block)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

		runs, err := env.uc.Sync.ListRuns(ctx, types.SyncTypeUsers, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, runs).Length(1)
		gt.Value(t, runs[0].Status).Equal(types.SyncStatusCompleted)
	})

	t.Run("full run excludes single-entity runs", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1))
		env.dir.block = make(chan struct{})
		ctx := context.Background()

		res, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeFull, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)

		res, err = env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAlreadyRunning)

		// rooms are not part of a users run
		close(env.dir.block)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

		res, err = env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()
	})

	t.Run("different types run concurrently", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1))
		env.dir.block = make(chan struct{})
		env.chat.addRoom("R1", "U0000", "U0001")
		ctx := context.Background()

		res, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeRooms, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, run.Status).Equal(types.SyncStatusCompleted)

		close(env.dir.block)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()
	})

	t.Run("manual trigger cools down", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(2))
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerManual, "alice")
		gt.NoError(t, err).Required()

		res, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerManual, "alice")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerCoolingDown)
		gt.Bool(t, res.RetryAfter > 0).True()
		gt.Value(t, res.RunID).Equal(model.SyncRunID(""))

		// scheduled triggers ignore the manual cooldown
		res, err = env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "system")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

		// another type has its own cooldown
		res, err = env.uc.Sync.TriggerSync(ctx, types.SyncTypeRooms, types.TriggerManual, "alice")
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()
	})

	t.Run("invalid sync type", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.uc.Sync.TriggerSync(context.Background(), types.SyncType("groups"), types.TriggerManual, "alice")
		gt.Error(t, err).Is(usecase.ErrInvalidSyncType)
	})

	t.Run("busy RunSync reports a conflict", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1))
		env.dir.block = make(chan struct{})
		ctx := context.Background()

		_, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		_, err = env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.Error(t, err).Is(model.ErrConcurrencyConflict)

		close(env.dir.block)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()
	})
}

func TestSyncUseCase_Users(t *testing.T) {
	t.Run("full sync reconciles active users with the seen set", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		gt.NoError(t, env.repo.DirectoryUser().Upsert(ctx, makeUsers(5))).Required()
		env.dir.setUsers(makeUsers(3))

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, run.Status).Equal(types.SyncStatusCompleted)
		gt.Value(t, run.Mode).Equal(types.SyncModeFull)
		gt.Number(t, run.ItemsSeen).Equal(3)
		gt.Number(t, run.ItemsProcessed).Equal(3)

		active, err := env.repo.DirectoryUser().List(ctx, model.UserFilter{ActiveOnly: true})
		gt.NoError(t, err).Required()
		gt.Array(t, active).Length(3)
		for i, u := range active {
			gt.Value(t, u.ID).Equal(makeUsers(3)[i].ID)
		}

		gone, err := env.repo.DirectoryUser().Get(ctx, "U0004")
		gt.NoError(t, err).Required()
		gt.Bool(t, gone.Active).False()
	})

	t.Run("truncated listing with honest total is recovered", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1314))
		env.dir.hideNext = true
		ctx := context.Background()

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Number(t, run.ItemsSeen).Equal(1314)
		gt.Number(t, run.LastPage).Equal(3)
		gt.Bool(t, run.LowConfidence).False()
		gt.Array(t, env.dir.requests).Length(3)

		n, err := env.repo.DirectoryUser().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(1314)
	})

	t.Run("stuck pagination fails the run and keeps applied pages", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1200))
		env.dir.hideNext = true
		env.dir.stuck = true
		ctx := context.Background()

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.Error(t, err).Is(model.ErrPaginationExhausted)
		gt.Value(t, run).NotNil().Required()
		gt.Value(t, run.Status).Equal(types.SyncStatusFailed)
		gt.Number(t, run.LastPage).Equal(1)
		gt.String(t, run.Error).NotEqual("")

		n, err := env.repo.DirectoryUser().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(500)

		state, err := env.uc.Sync.GetStatus(ctx, types.SyncTypeUsers)
		gt.NoError(t, err).Required()
		gt.Value(t, state.LastRun.ID).Equal(run.ID)
		gt.Value(t, state.LastSuccess).Nil()
	})

	t.Run("failed fetch never reconciles", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		gt.NoError(t, env.repo.DirectoryUser().Upsert(ctx, makeUsers(3))).Required()
		env.dir.err = model.ErrUpstreamRejected

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.Error(t, err).Is(model.ErrUpstreamRejected)

		n, err := env.repo.DirectoryUser().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(3)
	})

	t.Run("missing total is recorded as low confidence", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(4))
		env.dir.withTotal = false
		ctx := context.Background()

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Bool(t, run.LowConfidence).True()
		gt.Number(t, run.ItemsSeen).Equal(4)
	})

	t.Run("incremental when cache agrees with the provider", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(4))
		env.dir.modifiedSince = true
		ctx := context.Background()

		first, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, first.Mode).Equal(types.SyncModeFull)

		second, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, second.Mode).Equal(types.SyncModeIncremental)
		gt.Value(t, env.dir.lastRequest().ModifiedSince).Equal(first.StartedAt)

		// a remote deletion shows up as count drift
		env.dir.setUsers(makeUsers(3))
		third, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, third.Mode).Equal(types.SyncModeFull)
		gt.Bool(t, env.dir.lastRequest().ModifiedSince.IsZero()).True()

		n, err := env.repo.DirectoryUser().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(3)
	})

	t.Run("stale cache forces a full sync", func(t *testing.T) {
		now := time.Now()
		clock := func() time.Time { return now }
		env := newTestEnv(t, usecase.WithClock(clock))
		env.dir.setUsers(makeUsers(2))
		env.dir.modifiedSince = true
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		now = now.Add(48 * time.Hour)
		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, run.Mode).Equal(types.SyncModeFull)
	})

	t.Run("every transition is audited", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1))
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerManual, "alice")
		gt.NoError(t, err).Required()

		events := env.audit.byType(model.AuditSyncRunTransition)
		gt.Array(t, events).Length(3).Required()
		gt.Value(t, events[0].Details["status"]).Equal("PENDING")
		gt.Value(t, events[1].Details["status"]).Equal("RUNNING")
		gt.Value(t, events[2].Details["status"]).Equal("COMPLETED")
		gt.Value(t, events[2].Actor).Equal("alice")
	})
}

func TestSyncUseCase_Memberships(t *testing.T) {
	t.Run("left members transition to left", func(t *testing.T) {
		env := newTestEnv(t)
		env.chat.addRoom("R1", "A", "B", "C")
		ctx := context.Background()

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeRooms, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, run.Status).Equal(types.SyncStatusCompleted)

		_, err = env.uc.Sync.RunSync(ctx, types.SyncTypeMemberships, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		env.chat.setMembers("R1", "A", "C")
		_, err = env.uc.Sync.RunSync(ctx, types.SyncTypeMemberships, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		want := map[model.DirectoryUserID]types.MembershipState{
			"A": types.MembershipJoined,
			"B": types.MembershipLeft,
			"C": types.MembershipJoined,
		}
		for user, state := range want {
			m, err := env.repo.Membership().Get(ctx, model.MembershipKey{RoomID: "R1", UserID: user})
			gt.NoError(t, err).Required()
			gt.Value(t, m.State).Equal(state)
		}
	})

	t.Run("small rooms are skipped", func(t *testing.T) {
		env := newTestEnv(t)
		env.chat.addRoom("R1", "A", "B")
		env.chat.addRoom("R2", "A")
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeFull, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		members, err := env.repo.Membership().List(ctx, model.MembershipFilter{RoomID: "R2"})
		gt.NoError(t, err).Required()
		gt.Array(t, members).Length(0)

		members, err = env.repo.Membership().List(ctx, model.MembershipFilter{RoomID: "R1"})
		gt.NoError(t, err).Required()
		gt.Array(t, members).Length(2)
	})

	t.Run("one failing room does not fail the run", func(t *testing.T) {
		env := newTestEnv(t)
		env.chat.addRoom("R1", "A", "B")
		env.chat.addRoom("R2", "A", "C")
		env.chat.memberErr["R2"] = model.ErrUpstreamRejected
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeRooms, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeMemberships, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()
		gt.Value(t, run.Status).Equal(types.SyncStatusCompleted)
		gt.Number(t, run.ItemsSkipped).Equal(1)
		gt.String(t, run.Error).NotEqual("")

		members, err := env.repo.Membership().List(ctx, model.MembershipFilter{RoomID: "R1"})
		gt.NoError(t, err).Required()
		gt.Array(t, members).Length(2)
	})

	t.Run("every room failing fails the run", func(t *testing.T) {
		env := newTestEnv(t)
		env.chat.addRoom("R1", "A", "B")
		env.chat.memberErr["R1"] = model.ErrUpstreamRejected
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeRooms, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		run, err := env.uc.Sync.RunSync(ctx, types.SyncTypeMemberships, types.TriggerScheduled, "test")
		gt.Value(t, err).NotNil()
		gt.Value(t, run.Status).Equal(types.SyncStatusFailed)
	})
}

func TestSyncUseCase_Cancellation(t *testing.T) {
	t.Run("shutdown cancels a running sync", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(1))
		env.dir.block = make(chan struct{})
		ctx := context.Background()

		res, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.NoError(t, err).Required()

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		gt.NoError(t, env.uc.Sync.Shutdown(shutdownCtx)).Required()

		state, err := env.uc.Sync.GetStatus(ctx, types.SyncTypeUsers)
		gt.NoError(t, err).Required()
		gt.Value(t, state.LastRun.ID).Equal(res.RunID)
		gt.Value(t, state.LastRun.Status).Equal(types.SyncStatusCancelled)

		_, err = env.uc.Sync.TriggerSync(ctx, types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.Error(t, err).Is(usecase.ErrShutdown)
	})

	t.Run("triggers racing shutdown are waited for or rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.setUsers(makeUsers(2))
		env.chat.addRoom("R1", "U0000", "U0001")
		ctx := context.Background()

		var (
			mu       sync.Mutex
			accepted []model.SyncRunID
			failures []error
			wg       sync.WaitGroup
		)
		start := make(chan struct{})
		for i := range 8 {
			syncType := types.AllSyncTypes()[i%len(types.AllSyncTypes())]
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for range 50 {
					res, err := env.uc.Sync.TriggerSync(ctx, syncType, types.TriggerScheduled, "test")
					mu.Lock()
					switch {
					case errors.Is(err, usecase.ErrShutdown):
						mu.Unlock()
						return
					case err != nil:
						failures = append(failures, err)
					case res.Status == usecase.TriggerAccepted:
						accepted = append(accepted, res.RunID)
					}
					mu.Unlock()
				}
			}()
		}

		close(start)
		time.Sleep(time.Millisecond)
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		gt.NoError(t, env.uc.Sync.Shutdown(shutdownCtx)).Required()
		wg.Wait()

		gt.Array(t, failures).Length(0)
		for _, id := range accepted {
			run, err := env.repo.SyncRun().Get(ctx, id)
			gt.NoError(t, err).Required()
			gt.Bool(t, run.Status.IsTerminal()).True()
		}

		_, err := env.uc.Sync.TriggerSync(ctx, types.SyncTypeRooms, types.TriggerManual, "alice")
		gt.Error(t, err).Is(usecase.ErrShutdown)
	})

	t.Run("run timeout fails with partial progress", func(t *testing.T) {
		policy := testSyncPolicy()
		policy.RunTimeout = 50 * time.Millisecond
		env := newTestEnv(t, usecase.WithSyncPolicy(policy))
		env.dir.setUsers(makeUsers(1))
		env.dir.block = make(chan struct{})

		run, err := env.uc.Sync.RunSync(context.Background(), types.SyncTypeUsers, types.TriggerScheduled, "test")
		gt.Error(t, err).Is(usecase.ErrRunTimeout)
		gt.Value(t, run.Status).Equal(types.SyncStatusFailed)
	})
}

func TestSyncUseCase_NeedsWarmup(t *testing.T) {
	env := newTestEnv(t)
	env.dir.setUsers(makeUsers(1))
	ctx := context.Background()

	need, err := env.uc.Sync.NeedsWarmup(ctx, types.SyncTypeUsers)
	gt.NoError(t, err).Required()
	gt.Bool(t, need).True()

	_, err = env.uc.Sync.RunSync(ctx, types.SyncTypeUsers, types.TriggerWarmup, "system")
	gt.NoError(t, err).Required()

	need, err = env.uc.Sync.NeedsWarmup(ctx, types.SyncTypeUsers)
	gt.NoError(t, err).Required()
	gt.Bool(t, need).False()
}

func TestSyncUseCase_NeedsWarmupAfterFullRun(t *testing.T) {
	env := newTestEnv(t)
	env.dir.setUsers(makeUsers(1))
	ctx := context.Background()

	_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeFull, types.TriggerWarmup, "system")
	gt.NoError(t, err).Required()

	for _, st := range types.AllSyncTypes() {
		need, err := env.uc.Sync.NeedsWarmup(ctx, st)
		gt.NoError(t, err).Required()
		gt.Bool(t, need).False()
	}
}
