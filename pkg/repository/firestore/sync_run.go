package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type syncRunRepository struct {
	collections
}

var _ interfaces.SyncRunRepository = &syncRunRepository{}

type syncRunDoc struct {
	ID             string    `firestore:"id"`
	Type           string    `firestore:"type"`
	Status         string    `firestore:"status"`
	Trigger        string    `firestore:"trigger"`
	Mode           string    `firestore:"mode"`
	CreatedAt      time.Time `firestore:"created_at"`
	StartedAt      time.Time `firestore:"started_at"`
	CompletedAt    time.Time `firestore:"completed_at"`
	ItemsSeen      int       `firestore:"items_seen"`
	ItemsProcessed int       `firestore:"items_processed"`
	ItemsSkipped   int       `firestore:"items_skipped"`
	LastPage       int       `firestore:"last_page"`
	LastCursor     string    `firestore:"last_cursor"`
	LowConfidence  bool      `firestore:"low_confidence"`
	Error          string    `firestore:"error"`
}

func toSyncRunDoc(run *model.SyncRun) *syncRunDoc {
	return &syncRunDoc{
		ID:             string(run.ID),
		Type:           string(run.Type),
		Status:         string(run.Status),
		Trigger:        string(run.Trigger),
		Mode:           string(run.Mode),
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		ItemsSeen:      run.ItemsSeen,
		ItemsProcessed: run.ItemsProcessed,
		ItemsSkipped:   run.ItemsSkipped,
		LastPage:       run.LastPage,
		LastCursor:     run.LastCursor,
		LowConfidence:  run.LowConfidence,
		Error:          run.Error,
	}
}

func (d *syncRunDoc) toModel() *model.SyncRun {
	return &model.SyncRun{
		ID:             model.SyncRunID(d.ID),
		Type:           types.SyncType(d.Type),
		Status:         types.SyncStatus(d.Status),
		Trigger:        types.TriggerSource(d.Trigger),
		Mode:           types.SyncMode(d.Mode),
		CreatedAt:      d.CreatedAt,
		StartedAt:      d.StartedAt,
		CompletedAt:    d.CompletedAt,
		ItemsSeen:      d.ItemsSeen,
		ItemsProcessed: d.ItemsProcessed,
		ItemsSkipped:   d.ItemsSkipped,
		LastPage:       d.LastPage,
		LastCursor:     d.LastCursor,
		LowConfidence:  d.LowConfidence,
		Error:          d.Error,
	}
}

func (r *syncRunRepository) collection() *firestore.CollectionRef {
	return r.get(SyncRunsCollection)
}

func (r *syncRunRepository) Put(ctx context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		return goerr.New("sync run ID is required")
	}
	if _, err := r.collection().Doc(docID(string(run.ID))).Set(ctx, toSyncRunDoc(run)); err != nil {
		return goerr.Wrap(err, "failed to put sync run", goerr.V(model.SyncRunIDKey, run.ID))
	}
	return nil
}

func (r *syncRunRepository) Get(ctx context.Context, id model.SyncRunID) (*model.SyncRun, error) {
	doc, err := r.collection().Doc(docID(string(id))).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "sync run not found", goerr.V(model.SyncRunIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get sync run", goerr.V(model.SyncRunIDKey, id))
	}

	var d syncRunDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal sync run", goerr.V(model.SyncRunIDKey, id))
	}
	return d.toModel(), nil
}

func (r *syncRunRepository) first(ctx context.Context, q firestore.Query) (*model.SyncRun, error) {
	docs, err := readAll[syncRunDoc](ctx, q.OrderBy("created_at", firestore.Desc).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0].toModel(), nil
}

func (r *syncRunRepository) Latest(ctx context.Context, syncType types.SyncType) (*model.SyncRun, error) {
	run, err := r.first(ctx, r.collection().Where("type", "==", string(syncType)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get latest sync run", goerr.V(model.SyncTypeKey, syncType))
	}
	return run, nil
}

func (r *syncRunRepository) LatestSuccessful(ctx context.Context, syncType types.SyncType) (*model.SyncRun, error) {
	q := r.collection().
		Where("type", "==", string(syncType)).
		Where("status", "==", string(types.SyncStatusCompleted))
	run, err := r.first(ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get latest successful sync run", goerr.V(model.SyncTypeKey, syncType))
	}
	return run, nil
}

func (r *syncRunRepository) List(ctx context.Context, syncType types.SyncType, limit int) ([]*model.SyncRun, error) {
	q := r.collection().
		Where("type", "==", string(syncType)).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	docs, err := readAll[syncRunDoc](ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sync runs", goerr.V(model.SyncTypeKey, syncType))
	}

	runs := make([]*model.SyncRun, 0, len(docs))
	for _, d := range docs {
		runs = append(runs, d.toModel())
	}
	return runs, nil
}
