package firestore

import (
	"context"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type dispatchRepository struct {
	collections
}

var _ interfaces.DispatchRepository = &dispatchRepository{}

// dispatchTargetDoc lives in the targets subcollection of its job. Index
// keeps submission order.
type dispatchTargetDoc struct {
	Index       int    `firestore:"index"`
	ID          string `firestore:"id"`
	UserID      string `firestore:"user_id"`
	RoomID      string `firestore:"room_id"`
	DisplayName string `firestore:"display_name"`
	RoomName    string `firestore:"room_name"`
}

type dispatchJobDoc struct {
	ID               string              `firestore:"id"`
	Kind             string    `firestore:"kind"`
	TargetCount      int       `firestore:"target_count"`
	Text             string    `firestore:"text"`
	RoomIDs          []string  `firestore:"room_ids"`
	ConcurrencyLimit int       `firestore:"concurrency_limit"`
	Status           string    `firestore:"status"`
	Actor            string    `firestore:"actor"`
	CreatedAt        time.Time `firestore:"created_at"`
	CompletedAt      time.Time `firestore:"completed_at"`
}

type dispatchResultDoc struct {
	JobID       string    `firestore:"job_id"`
	TargetID    string    `firestore:"target_id"`
	Outcome     string    `firestore:"outcome"`
	Error       string    `firestore:"error"`
	Attempts    int       `firestore:"attempts"`
	CompletedAt time.Time `firestore:"completed_at"`
}

func toDispatchJobDoc(job *model.DispatchJob) *dispatchJobDoc {
	doc := &dispatchJobDoc{
		ID:               string(job.ID),
		Kind:             string(job.Kind),
		TargetCount:      len(job.Targets),
		Text:             job.Payload.Text,
		RoomIDs:          make([]string, 0, len(job.Payload.RoomIDs)),
		ConcurrencyLimit: job.ConcurrencyLimit,
		Status:           string(job.Status),
		Actor:            job.Actor,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
	for _, id := range job.Payload.RoomIDs {
		doc.RoomIDs = append(doc.RoomIDs, string(id))
	}
	return doc
}

func (d *dispatchJobDoc) toModel(targets []*dispatchTargetDoc) *model.DispatchJob {
	job := &model.DispatchJob{
		ID:               model.DispatchJobID(d.ID),
		Kind:             types.DispatchKind(d.Kind),
		Targets:          make([]model.DispatchTarget, 0, len(targets)),
		Payload:          model.DispatchPayload{Text: d.Text},
		ConcurrencyLimit: d.ConcurrencyLimit,
		Status:           types.JobStatus(d.Status),
		Actor:            d.Actor,
		CreatedAt:        d.CreatedAt,
		CompletedAt:      d.CompletedAt,
	}
	for _, t := range targets {
		job.Targets = append(job.Targets, model.DispatchTarget{
			ID:          model.TargetID(t.ID),
			UserID:      model.DirectoryUserID(t.UserID),
			RoomID:      model.ChatRoomID(t.RoomID),
			DisplayName: t.DisplayName,
			RoomName:    t.RoomName,
		})
	}
	for _, id := range d.RoomIDs {
		job.Payload.RoomIDs = append(job.Payload.RoomIDs, model.ChatRoomID(id))
	}
	return job
}

func (d *dispatchResultDoc) toModel() *model.DispatchResult {
	return &model.DispatchResult{
		JobID:       model.DispatchJobID(d.JobID),
		TargetID:    model.TargetID(d.TargetID),
		Outcome:     types.DispatchOutcome(d.Outcome),
		Error:       d.Error,
		Attempts:    d.Attempts,
		CompletedAt: d.CompletedAt,
	}
}

func (r *dispatchRepository) jobs() *firestore.CollectionRef {
	return r.get(DispatchJobsCollection)
}

func (r *dispatchRepository) results() *firestore.CollectionRef {
	return r.get(DispatchResultsCollection)
}

func (r *dispatchRepository) targets(ref *firestore.DocumentRef) *firestore.CollectionRef {
	return ref.Collection(DispatchTargetsCollection)
}

// PutJob saves the job document. Targets are immutable and go to a
// subcollection on the first put only, as a document is limited to 1 MiB.
func (r *dispatchRepository) PutJob(ctx context.Context, job *model.DispatchJob) error {
	if job.ID == "" {
		return goerr.New("dispatch job ID is required")
	}

	ref := r.jobs().Doc(docID(string(job.ID)))
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get dispatch job", goerr.V(model.JobIDKey, job.ID))
		}
		// targets first, so that a stored job always has all of them
		if err := r.putTargets(ctx, ref, job.Targets); err != nil {
			return goerr.Wrap(err, "failed to put dispatch targets", goerr.V(model.JobIDKey, job.ID))
		}
	}

	if _, err := ref.Set(ctx, toDispatchJobDoc(job)); err != nil {
		return goerr.Wrap(err, "failed to put dispatch job", goerr.V(model.JobIDKey, job.ID))
	}
	return nil
}

func (r *dispatchRepository) putTargets(ctx context.Context, ref *firestore.DocumentRef, targets []model.DispatchTarget) error {
	col := r.targets(ref)
	sets := make([]bulkSet, 0, len(targets))
	for i, t := range targets {
		sets = append(sets, bulkSet{
			ref: col.Doc(docID(string(t.ID))),
			data: &dispatchTargetDoc{
				Index:       i,
				ID:          string(t.ID),
				UserID:      string(t.UserID),
				RoomID:      string(t.RoomID),
				DisplayName: t.DisplayName,
				RoomName:    t.RoomName,
			},
		})
	}
	return writeBulk(ctx, r.client, sets)
}

// loadJob reads the target snapshot of a decoded job document
func (r *dispatchRepository) loadJob(ctx context.Context, d *dispatchJobDoc) (*model.DispatchJob, error) {
	ref := r.jobs().Doc(docID(d.ID))
	targets, err := readAll[dispatchTargetDoc](ctx, r.targets(ref).OrderBy("index", firestore.Asc))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read dispatch targets", goerr.V(model.JobIDKey, d.ID))
	}
	if len(targets) != d.TargetCount {
		return nil, goerr.New("dispatch target snapshot is incomplete",
			goerr.V(model.JobIDKey, d.ID), goerr.V("expected", d.TargetCount), goerr.V("actual", len(targets)))
	}
	return d.toModel(targets), nil
}

func (r *dispatchRepository) GetJob(ctx context.Context, id model.DispatchJobID) (*model.DispatchJob, error) {
	doc, err := r.jobs().Doc(docID(string(id))).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "dispatch job not found", goerr.V(model.JobIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get dispatch job", goerr.V(model.JobIDKey, id))
	}

	var d dispatchJobDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal dispatch job", goerr.V(model.JobIDKey, id))
	}
	return r.loadJob(ctx, &d)
}

func (r *dispatchRepository) ListJobs(ctx context.Context, limit int) ([]*model.DispatchJob, error) {
	q := r.jobs().OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	docs, err := readAll[dispatchJobDoc](ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list dispatch jobs")
	}

	jobs := make([]*model.DispatchJob, 0, len(docs))
	for _, d := range docs {
		job, err := r.loadJob(ctx, d)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PutResult upserts the single result document of (job, target)
func (r *dispatchRepository) PutResult(ctx context.Context, result *model.DispatchResult) error {
	if result.JobID == "" || result.TargetID == "" {
		return goerr.New("dispatch result requires job and target",
			goerr.V(model.JobIDKey, result.JobID), goerr.V(model.TargetIDKey, result.TargetID))
	}

	doc := &dispatchResultDoc{
		JobID:       string(result.JobID),
		TargetID:    string(result.TargetID),
		Outcome:     string(result.Outcome),
		Error:       result.Error,
		Attempts:    result.Attempts,
		CompletedAt: result.CompletedAt,
	}
	ref := r.results().Doc(docID(string(result.JobID), string(result.TargetID)))
	if _, err := ref.Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put dispatch result",
			goerr.V(model.JobIDKey, result.JobID), goerr.V(model.TargetIDKey, result.TargetID))
	}
	return nil
}

func (r *dispatchRepository) GetResult(ctx context.Context, jobID model.DispatchJobID, targetID model.TargetID) (*model.DispatchResult, error) {
	doc, err := r.results().Doc(docID(string(jobID), string(targetID))).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "dispatch result not found",
				goerr.V(model.JobIDKey, jobID), goerr.V(model.TargetIDKey, targetID))
		}
		return nil, goerr.Wrap(err, "failed to get dispatch result",
			goerr.V(model.JobIDKey, jobID), goerr.V(model.TargetIDKey, targetID))
	}

	var d dispatchResultDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal dispatch result")
	}
	return d.toModel(), nil
}

func (r *dispatchRepository) ListResults(ctx context.Context, jobID model.DispatchJobID) ([]*model.DispatchResult, error) {
	docs, err := readAll[dispatchResultDoc](ctx, r.results().Where("job_id", "==", string(jobID)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list dispatch results", goerr.V(model.JobIDKey, jobID))
	}

	results := make([]*model.DispatchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, d.toModel())
	}
	slices.SortFunc(results, func(a, b *model.DispatchResult) int {
		return strings.Compare(string(a.TargetID), string(b.TargetID))
	})
	return results, nil
}
