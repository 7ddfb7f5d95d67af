package firestore

import (
	"context"
	"net/url"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// docID makes external IDs safe as a document ID; "/" is not allowed there.
// Parts are joined with "__", so "_" inside a part is escaped as well to keep
// ("a__b", "c") and ("a", "b__c") apart.
func docID(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = strings.ReplaceAll(url.PathEscape(p), "_", "%5F")
	}
	return strings.Join(escaped, "__")
}

type bulkSet struct {
	ref  *firestore.DocumentRef
	data any
}

// writeBulk sets every document through a BulkWriter and reports the first
// failed write
func writeBulk(ctx context.Context, client *firestore.Client, sets []bulkSet) error {
	if len(sets) == 0 {
		return nil
	}

	bulkWriter := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(sets))
	for _, s := range sets {
		job, err := bulkWriter.Set(s.ref, s.data)
		if err != nil {
			bulkWriter.End()
			return goerr.Wrap(err, "failed to add Set operation to bulk writer", goerr.V("doc", s.ref.ID))
		}
		jobs = append(jobs, job)
	}

	// End flushes and waits for every pending write
	bulkWriter.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "bulk write failed", goerr.V("doc", sets[i].ref.ID))
		}
	}
	return nil
}

// updateBulk applies the same field updates to every reference
func updateBulk(ctx context.Context, client *firestore.Client, refs []*firestore.DocumentRef, updates []firestore.Update) error {
	if len(refs) == 0 {
		return nil
	}

	bulkWriter := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bulkWriter.Update(ref, updates)
		if err != nil {
			bulkWriter.End()
			return goerr.Wrap(err, "failed to add Update operation to bulk writer", goerr.V("doc", ref.ID))
		}
		jobs = append(jobs, job)
	}
	bulkWriter.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "bulk update failed", goerr.V("doc", refs[i].ID))
		}
	}
	return nil
}

// readAll decodes every document of the query into T
func readAll[T any](ctx context.Context, q firestore.Query) ([]*T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []*T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate documents")
		}

		var v T
		if err := doc.DataTo(&v); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal document", goerr.V("docID", doc.Ref.ID))
		}
		docs = append(docs, &v)
	}
	return docs, nil
}

// countQuery runs a server-side count aggregation
func countQuery(ctx context.Context, q firestore.Query) (int, error) {
	result, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run count aggregation")
	}

	v, ok := result["all"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count aggregation result", goerr.V("result", result))
	}
	return int(v.GetIntegerValue()), nil
}
