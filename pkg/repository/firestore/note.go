package firestore

import (
	"context"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type noteRepository struct {
	collections
}

var _ interfaces.NoteRepository = &noteRepository{}

type adminNoteDoc struct {
	ID         string    `firestore:"id"`
	EntityType string    `firestore:"entity_type"`
	EntityID   string    `firestore:"entity_id"`
	Body       string    `firestore:"body"`
	Author     string    `firestore:"author"`
	CreatedAt  time.Time `firestore:"created_at"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

func (d *adminNoteDoc) toModel() *model.AdminNote {
	return &model.AdminNote{
		ID:         model.NoteID(d.ID),
		EntityType: types.EntityType(d.EntityType),
		EntityID:   d.EntityID,
		Body:       d.Body,
		Author:     d.Author,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func (r *noteRepository) collection() *firestore.CollectionRef {
	return r.get(AdminNotesCollection)
}

func (r *noteRepository) Put(ctx context.Context, note *model.AdminNote) error {
	if note.ID == "" {
		return goerr.New("note ID is required")
	}
	if err := note.Validate(); err != nil {
		return goerr.Wrap(err, "invalid note")
	}

	doc := &adminNoteDoc{
		ID:         string(note.ID),
		EntityType: string(note.EntityType),
		EntityID:   note.EntityID,
		Body:       note.Body,
		Author:     note.Author,
		CreatedAt:  note.CreatedAt,
		UpdatedAt:  note.UpdatedAt,
	}
	if _, err := r.collection().Doc(docID(string(note.ID))).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put note", goerr.V("id", note.ID))
	}
	return nil
}

func (r *noteRepository) Get(ctx context.Context, id model.NoteID) (*model.AdminNote, error) {
	doc, err := r.collection().Doc(docID(string(id))).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "note not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get note", goerr.V("id", id))
	}

	var d adminNoteDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal note", goerr.V("id", id))
	}
	return d.toModel(), nil
}

func (r *noteRepository) ListByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*model.AdminNote, error) {
	q := r.collection().
		Where("entity_type", "==", string(entityType)).
		Where("entity_id", "==", entityID)

	docs, err := readAll[adminNoteDoc](ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list notes",
			goerr.V("entity_type", entityType), goerr.V("entity_id", entityID))
	}

	notes := make([]*model.AdminNote, 0, len(docs))
	for _, d := range docs {
		notes = append(notes, d.toModel())
	}
	slices.SortFunc(notes, func(a, b *model.AdminNote) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return notes, nil
}

func (r *noteRepository) Delete(ctx context.Context, id model.NoteID) error {
	ref := r.collection().Doc(docID(string(id)))

	// Check if document exists first
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(ErrNotFound, "note not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to get note", goerr.V("id", id))
	}

	if _, err := ref.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete note", goerr.V("id", id))
	}
	return nil
}
