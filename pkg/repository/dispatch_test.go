package repository_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

func runDispatchRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	newJob := func() *model.DispatchJob {
		alice := newUser("idp:1", "alice")
		general := newRoom("C1", "general", 10)
		return &model.DispatchJob{
			ID:               model.DispatchJobID(uuid.NewString()),
			Kind:             types.DispatchInvite,
			Targets:          []model.DispatchTarget{model.NewInviteTarget(alice, general)},
			Payload:          model.DispatchPayload{RoomIDs: []model.ChatRoomID{"C1"}},
			ConcurrencyLimit: 5,
			Status:           types.JobStatusRunning,
			Actor:            "admin",
			CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("PutJob and GetJob keep target snapshot", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := newJob()
		gt.NoError(t, repo.Dispatch().PutJob(ctx, job)).Required()

		got, err := repo.Dispatch().GetJob(ctx, job.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Kind).Equal(types.DispatchInvite)
		gt.Array(t, got.Targets).Length(1)
		gt.Value(t, got.Targets[0].ID).Equal(model.TargetID("invite:C1:idp:1"))
		gt.Value(t, got.Targets[0].DisplayName).Equal("alice")
		gt.Value(t, got.Payload.RoomIDs).Equal([]model.ChatRoomID{"C1"})
		gt.Number(t, got.ConcurrencyLimit).Equal(5)
	})

	t.Run("large target snapshot survives status updates", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		// well above the 1 MiB document limit when stored inline
		general := newRoom("C1", "general", 10)
		job := newJob()
		job.Targets = nil
		padding := strings.Repeat("x", 300)
		for i := 5000; i > 0; i-- {
			user := newUser(fmt.Sprintf("idp:%d", i), fmt.Sprintf("user%d-%s", i, padding))
			job.Targets = append(job.Targets, model.NewInviteTarget(user, general))
		}
		gt.NoError(t, repo.Dispatch().PutJob(ctx, job)).Required()

		job.Status = types.JobStatusCompleted
		job.CompletedAt = job.CreatedAt.Add(time.Minute)
		gt.NoError(t, repo.Dispatch().PutJob(ctx, job)).Required()

		got, err := repo.Dispatch().GetJob(ctx, job.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Status).Equal(types.JobStatusCompleted)
		gt.Array(t, got.Targets).Length(5000).Required()
		gt.Value(t, got.Targets[0].ID).Equal(model.TargetID("invite:C1:idp:5000"))
		gt.Value(t, got.Targets[4999].ID).Equal(model.TargetID("invite:C1:idp:1"))

		jobs, err := repo.Dispatch().ListJobs(ctx, 1)
		gt.NoError(t, err).Required()
		gt.Array(t, jobs).Length(1).Required()
		gt.Array(t, jobs[0].Targets).Length(5000)
	})

	t.Run("PutResult keeps one record per target", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := newJob()
		gt.NoError(t, repo.Dispatch().PutJob(ctx, job)).Required()
		target := job.Targets[0].ID

		gt.NoError(t, repo.Dispatch().PutResult(ctx, &model.DispatchResult{
			JobID: job.ID, TargetID: target, Outcome: types.OutcomeFailure, Error: "timeout", Attempts: 3,
		})).Required()
		gt.NoError(t, repo.Dispatch().PutResult(ctx, &model.DispatchResult{
			JobID: job.ID, TargetID: target, Outcome: types.OutcomeSuccess, Attempts: 4,
		})).Required()

		results, err := repo.Dispatch().ListResults(ctx, job.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1)
		gt.Value(t, results[0].Outcome).Equal(types.OutcomeSuccess)
		gt.Number(t, results[0].Attempts).Equal(4)

		got, err := repo.Dispatch().GetResult(ctx, job.ID, target)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Error).Equal("")
	})

	t.Run("ListJobs newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		older := newJob()
		newer := newJob()
		newer.CreatedAt = older.CreatedAt.Add(time.Minute)
		gt.NoError(t, repo.Dispatch().PutJob(ctx, older)).Required()
		gt.NoError(t, repo.Dispatch().PutJob(ctx, newer)).Required()

		jobs, err := repo.Dispatch().ListJobs(ctx, 1)
		gt.NoError(t, err).Required()
		gt.Array(t, jobs).Length(1)
		gt.Value(t, jobs[0].ID).Equal(newer.ID)
	})

	t.Run("GetJob returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Dispatch().GetJob(context.Background(), "missing")
		gt.Bool(t, isNotFound(err)).True()
	})
}
