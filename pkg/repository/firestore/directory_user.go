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
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type directoryUserRepository struct {
	collections
}

var _ interfaces.DirectoryUserRepository = &directoryUserRepository{}

// directoryUserDoc is the Firestore persistence model
type directoryUserDoc struct {
	ID             string    `firestore:"id"`
	DisplayName    string    `firestore:"display_name"`
	Email          string    `firestore:"email"`
	BridgeIdentity string    `firestore:"bridge_identity"`
	Active         bool      `firestore:"active"`
	LastSeenAt     time.Time `firestore:"last_seen_at"`
	RemoteUpdated  time.Time `firestore:"remote_updated"`
	SyncedAt       time.Time `firestore:"synced_at"`
}

func toDirectoryUserDoc(u *model.DirectoryUser) *directoryUserDoc {
	return &directoryUserDoc{
		ID:             string(u.ID),
		DisplayName:    u.DisplayName,
		Email:          u.Email,
		BridgeIdentity: u.BridgeIdentity,
		Active:         u.Active,
		LastSeenAt:     u.LastSeenAt,
		RemoteUpdated:  u.RemoteUpdated,
		SyncedAt:       u.SyncedAt,
	}
}

func (d *directoryUserDoc) toModel() *model.DirectoryUser {
	return &model.DirectoryUser{
		ID:             model.DirectoryUserID(d.ID),
		DisplayName:    d.DisplayName,
		Email:          d.Email,
		BridgeIdentity: d.BridgeIdentity,
		Active:         d.Active,
		LastSeenAt:     d.LastSeenAt,
		RemoteUpdated:  d.RemoteUpdated,
		SyncedAt:       d.SyncedAt,
	}
}

func (r *directoryUserRepository) collection() *firestore.CollectionRef {
	return r.get(DirectoryUsersCollection)
}

// Upsert writes one document per user. A document Set is atomic, so readers
// see either the old or the new record.
func (r *directoryUserRepository) Upsert(ctx context.Context, users []*model.DirectoryUser) error {
	sets := make([]bulkSet, 0, len(users))
	for _, u := range users {
		if err := u.Validate(); err != nil {
			return goerr.Wrap(err, "invalid directory user")
		}
		sets = append(sets, bulkSet{
			ref:  r.collection().Doc(docID(string(u.ID))),
			data: toDirectoryUserDoc(u),
		})
	}

	if err := writeBulk(ctx, r.client, sets); err != nil {
		return goerr.Wrap(err, "failed to upsert directory users", goerr.V("count", len(users)))
	}
	return nil
}

func (r *directoryUserRepository) MarkStaleExcept(ctx context.Context, seen []model.DirectoryUserID) (int, error) {
	keep := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		keep[string(id)] = struct{}{}
	}

	docs, err := readAll[directoryUserDoc](ctx, r.collection().Where("active", "==", true))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list active directory users")
	}

	var refs []*firestore.DocumentRef
	for _, d := range docs {
		if _, ok := keep[d.ID]; ok {
			continue
		}
		refs = append(refs, r.collection().Doc(docID(d.ID)))
	}

	if err := updateBulk(ctx, r.client, refs, []firestore.Update{{Path: "active", Value: false}}); err != nil {
		return 0, goerr.Wrap(err, "failed to deactivate stale directory users")
	}
	return len(refs), nil
}

func (r *directoryUserRepository) Get(ctx context.Context, id model.DirectoryUserID) (*model.DirectoryUser, error) {
	doc, err := r.collection().Doc(docID(string(id))).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "directory user not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get directory user", goerr.V("id", id))
	}

	var d directoryUserDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal directory user", goerr.V("id", id))
	}
	return d.toModel(), nil
}

func (r *directoryUserRepository) List(ctx context.Context, filter model.UserFilter) ([]*model.DirectoryUser, error) {
	q := r.collection().Query
	if filter.ActiveOnly {
		q = q.Where("active", "==", true)
	}

	docs, err := readAll[directoryUserDoc](ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list directory users")
	}

	var users []*model.DirectoryUser
	for _, d := range docs {
		u := d.toModel()
		if filter.Match(u) {
			users = append(users, u)
		}
	}

	slices.SortFunc(users, func(a, b *model.DirectoryUser) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if filter.Limit > 0 && len(users) > filter.Limit {
		users = users[:filter.Limit]
	}
	return users, nil
}

func (r *directoryUserRepository) Count(ctx context.Context) (int, error) {
	n, err := countQuery(ctx, r.collection().Where("active", "==", true))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count directory users")
	}
	return n, nil
}
