package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

func runSyncRunRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Put, Get and update", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		run := model.NewSyncRun(model.SyncRunID(uuid.NewString()), types.SyncTypeUsers, types.TriggerManual, now)
		gt.NoError(t, repo.SyncRun().Put(ctx, run)).Required()

		gt.NoError(t, run.Start(now)).Required()
		run.Mode = types.SyncModeFull
		run.ItemsSeen = 1314
		run.LastPage = 3
		gt.NoError(t, repo.SyncRun().Put(ctx, run)).Required()

		got, err := repo.SyncRun().Get(ctx, run.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.SyncStatusRunning)
		gt.Value(t, got.Mode).Equal(types.SyncModeFull)
		gt.Number(t, got.ItemsSeen).Equal(1314)
		gt.Number(t, got.LastPage).Equal(3)
	})

	t.Run("Latest and LatestSuccessful", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Millisecond)

		ok := model.NewSyncRun("run-1", types.SyncTypeRooms, types.TriggerScheduled, base)
		gt.NoError(t, ok.Start(base)).Required()
		gt.NoError(t, ok.Finish(types.SyncStatusCompleted, base.Add(time.Second), nil)).Required()

		failed := model.NewSyncRun("run-2", types.SyncTypeRooms, types.TriggerScheduled, base.Add(time.Minute))
		gt.NoError(t, failed.Start(base.Add(time.Minute))).Required()
		gt.NoError(t, failed.Finish(types.SyncStatusFailed, base.Add(2*time.Minute), nil)).Required()

		other := model.NewSyncRun("run-3", types.SyncTypeUsers, types.TriggerScheduled, base.Add(time.Hour))

		for _, r := range []*model.SyncRun{ok, failed, other} {
			gt.NoError(t, repo.SyncRun().Put(ctx, r)).Required()
		}

		latest, err := repo.SyncRun().Latest(ctx, types.SyncTypeRooms)
		gt.NoError(t, err).Required()
		gt.Value(t, latest.ID).Equal(model.SyncRunID("run-2"))

		success, err := repo.SyncRun().LatestSuccessful(ctx, types.SyncTypeRooms)
		gt.NoError(t, err).Required()
		gt.Value(t, success.ID).Equal(model.SyncRunID("run-1"))

		none, err := repo.SyncRun().LatestSuccessful(ctx, types.SyncTypeMemberships)
		gt.NoError(t, err).Required()
		gt.Value(t, none).Nil()

		runs, err := repo.SyncRun().List(ctx, types.SyncTypeRooms, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, runs).Length(2)
		gt.Value(t, runs[0].ID).Equal(model.SyncRunID("run-2"))
	})

	t.Run("Get returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.SyncRun().Get(context.Background(), "missing")
		gt.Bool(t, isNotFound(err)).True()
	})
}
