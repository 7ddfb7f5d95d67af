package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// NoteUseCase manages admin notes. Notes live apart from synced records, so
// they survive any number of syncs.
type NoteUseCase struct {
	repo interfaces.Repository
	now  func() time.Time
}

func NewNoteUseCase(repo interfaces.Repository, now func() time.Time) *NoteUseCase {
	if now == nil {
		now = time.Now
	}
	return &NoteUseCase{repo: repo, now: now}
}

// Create attaches a note to a cached user or room
func (uc *NoteUseCase) Create(ctx context.Context, entityType types.EntityType, entityID, body, author string) (*model.AdminNote, error) {
	if err := uc.ensureEntity(ctx, entityType, entityID); err != nil {
		return nil, err
	}

	now := uc.now()
	note := &model.AdminNote{
		ID:         model.NoteID(uuid.New().String()),
		EntityType: entityType,
		EntityID:   entityID,
		Body:       body,
		Author:     author,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := note.Validate(); err != nil {
		return nil, goerr.Wrap(ErrInvalidRequest, "invalid note", goerr.V("cause", err.Error()))
	}
	if err := uc.repo.Note().Put(ctx, note); err != nil {
		return nil, goerr.Wrap(err, "failed to save note", goerr.V(NoteIDKey, note.ID))
	}
	return note, nil
}

// Update replaces the body of a note
func (uc *NoteUseCase) Update(ctx context.Context, id model.NoteID, body string) (*model.AdminNote, error) {
	note, err := uc.get(ctx, id)
	if err != nil {
		return nil, err
	}

	note.Body = body
	note.UpdatedAt = uc.now()
	if err := note.Validate(); err != nil {
		return nil, goerr.Wrap(ErrInvalidRequest, "invalid note", goerr.V("cause", err.Error()))
	}
	if err := uc.repo.Note().Put(ctx, note); err != nil {
		return nil, goerr.Wrap(err, "failed to update note", goerr.V(NoteIDKey, id))
	}
	return note, nil
}

func (uc *NoteUseCase) Delete(ctx context.Context, id model.NoteID) error {
	if _, err := uc.get(ctx, id); err != nil {
		return err
	}
	if err := uc.repo.Note().Delete(ctx, id); err != nil {
		return goerr.Wrap(err, "failed to delete note", goerr.V(NoteIDKey, id))
	}
	return nil
}

// List returns the notes of one entity
func (uc *NoteUseCase) List(ctx context.Context, entityType types.EntityType, entityID string) ([]*model.AdminNote, error) {
	if !entityType.IsValid() {
		return nil, goerr.Wrap(ErrInvalidEntityType, "cannot list notes", goerr.V(EntityTypeKey, entityType))
	}
	notes, err := uc.repo.Note().ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list notes",
			goerr.V(EntityTypeKey, entityType), goerr.V(EntityIDKey, entityID))
	}
	return notes, nil
}

func (uc *NoteUseCase) get(ctx context.Context, id model.NoteID) (*model.AdminNote, error) {
	note, err := uc.repo.Note().Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, goerr.Wrap(ErrNoteNotFound, "note does not exist", goerr.V(NoteIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get note", goerr.V(NoteIDKey, id))
	}
	return note, nil
}

// ensureEntity rejects notes on users or rooms that were never synced.
// Membership notes are keyed by "room/user" and not checked.
func (uc *NoteUseCase) ensureEntity(ctx context.Context, entityType types.EntityType, entityID string) error {
	var err error
	switch entityType {
	case types.EntityTypeUser:
		_, err = uc.repo.DirectoryUser().Get(ctx, model.DirectoryUserID(entityID))
	case types.EntityTypeRoom:
		_, err = uc.repo.ChatRoom().Get(ctx, model.ChatRoomID(entityID))
	case types.EntityTypeMembership:
		return nil
	default:
		return goerr.Wrap(ErrInvalidEntityType, "cannot attach note", goerr.V(EntityTypeKey, entityType))
	}

	if errors.Is(err, model.ErrNotFound) {
		return goerr.Wrap(ErrEntityNotFound, "cannot attach note",
			goerr.V(EntityTypeKey, entityType), goerr.V(EntityIDKey, entityID))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to look up entity", goerr.V(EntityIDKey, entityID))
	}
	return nil
}
