package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

type noteRepository struct {
	mu    sync.RWMutex
	notes map[model.NoteID]*model.AdminNote
}

func newNoteRepository() *noteRepository {
	return &noteRepository{
		notes: make(map[model.NoteID]*model.AdminNote),
	}
}

func (r *noteRepository) Put(ctx context.Context, note *model.AdminNote) error {
	if note.ID == "" {
		return goerr.New("note ID is required")
	}
	if err := note.Validate(); err != nil {
		return goerr.Wrap(err, "invalid note")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	noteCopy := *note
	r.notes[note.ID] = &noteCopy
	return nil
}

func (r *noteRepository) Get(ctx context.Context, id model.NoteID) (*model.AdminNote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	note, ok := r.notes[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "note not found", goerr.V("id", id))
	}
	noteCopy := *note
	return &noteCopy, nil
}

// ListByEntity returns the notes of one entity, oldest first
func (r *noteRepository) ListByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*model.AdminNote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var notes []*model.AdminNote
	for _, note := range r.notes {
		if note.EntityType != entityType || note.EntityID != entityID {
			continue
		}
		noteCopy := *note
		notes = append(notes, &noteCopy)
	}

	slices.SortFunc(notes, func(a, b *model.AdminNote) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return notes, nil
}

func (r *noteRepository) Delete(ctx context.Context, id model.NoteID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notes[id]; !ok {
		return goerr.Wrap(ErrNotFound, "note not found", goerr.V("id", id))
	}
	delete(r.notes, id)
	return nil
}
