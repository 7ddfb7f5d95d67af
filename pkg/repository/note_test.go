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

func runNoteRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	newNote := func(entityID, body string, at time.Time) *model.AdminNote {
		return &model.AdminNote{
			ID:         model.NoteID(uuid.NewString()),
			EntityType: types.EntityTypeUser,
			EntityID:   entityID,
			Body:       body,
			Author:     "admin",
			CreatedAt:  at,
			UpdatedAt:  at,
		}
	}

	t.Run("notes survive directory upserts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{newUser("idp:1", "alice")})).Required()
		note := newNote("idp:1", "VIP customer", now)
		gt.NoError(t, repo.Note().Put(ctx, note)).Required()

		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{newUser("idp:1", "alice.remote")})).Required()
		_, err := repo.DirectoryUser().MarkStaleExcept(ctx, nil)
		gt.NoError(t, err).Required()

		notes, err := repo.Note().ListByEntity(ctx, types.EntityTypeUser, "idp:1")
		gt.NoError(t, err).Required()
		gt.Array(t, notes).Length(1)
		gt.Value(t, notes[0].Body).Equal("VIP customer")
	})

	t.Run("ListByEntity orders by creation", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		gt.NoError(t, repo.Note().Put(ctx, newNote("idp:2", "second", now.Add(time.Minute)))).Required()
		gt.NoError(t, repo.Note().Put(ctx, newNote("idp:2", "first", now))).Required()
		gt.NoError(t, repo.Note().Put(ctx, newNote("idp:3", "other", now))).Required()

		notes, err := repo.Note().ListByEntity(ctx, types.EntityTypeUser, "idp:2")
		gt.NoError(t, err).Required()
		gt.Array(t, notes).Length(2)
		gt.Value(t, notes[0].Body).Equal("first")
		gt.Value(t, notes[1].Body).Equal("second")
	})

	t.Run("Delete removes note", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		note := newNote("idp:1", "temp", time.Now())
		gt.NoError(t, repo.Note().Put(ctx, note)).Required()
		gt.NoError(t, repo.Note().Delete(ctx, note.ID)).Required()

		_, err := repo.Note().Get(ctx, note.ID)
		gt.Bool(t, isNotFound(err)).True()

		err = repo.Note().Delete(ctx, note.ID)
		gt.Bool(t, isNotFound(err)).True()
	})
}
