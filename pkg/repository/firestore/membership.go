package firestore

import (
	"cmp"
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

type membershipRepository struct {
	collections
}

var _ interfaces.MembershipRepository = &membershipRepository{}

type membershipDoc struct {
	RoomID     string    `firestore:"room_id"`
	UserID     string    `firestore:"user_id"`
	State      string    `firestore:"state"`
	PowerLevel int       `firestore:"power_level"`
	JoinedAt   time.Time `firestore:"joined_at"`
	SyncedAt   time.Time `firestore:"synced_at"`
}

func toMembershipDoc(m *model.Membership) *membershipDoc {
	return &membershipDoc{
		RoomID:     string(m.RoomID),
		UserID:     string(m.UserID),
		State:      string(m.State),
		PowerLevel: m.PowerLevel,
		JoinedAt:   m.JoinedAt,
		SyncedAt:   m.SyncedAt,
	}
}

func (d *membershipDoc) toModel() *model.Membership {
	return &model.Membership{
		RoomID:     model.ChatRoomID(d.RoomID),
		UserID:     model.DirectoryUserID(d.UserID),
		State:      types.MembershipState(d.State),
		PowerLevel: d.PowerLevel,
		JoinedAt:   d.JoinedAt,
		SyncedAt:   d.SyncedAt,
	}
}

func (r *membershipRepository) collection() *firestore.CollectionRef {
	return r.get(MembershipsCollection)
}

func (r *membershipRepository) ref(key model.MembershipKey) *firestore.DocumentRef {
	return r.collection().Doc(docID(string(key.RoomID), string(key.UserID)))
}

func (r *membershipRepository) Upsert(ctx context.Context, memberships []*model.Membership) error {
	sets := make([]bulkSet, 0, len(memberships))
	for _, m := range memberships {
		if err := m.Validate(); err != nil {
			return goerr.Wrap(err, "invalid membership")
		}
		sets = append(sets, bulkSet{ref: r.ref(m.Key()), data: toMembershipDoc(m)})
	}

	if err := writeBulk(ctx, r.client, sets); err != nil {
		return goerr.Wrap(err, "failed to upsert memberships", goerr.V("count", len(memberships)))
	}
	return nil
}

func (r *membershipRepository) activeStates() []string {
	return []string{string(types.MembershipJoined), string(types.MembershipInvited)}
}

func (r *membershipRepository) MarkStaleExcept(ctx context.Context, roomID model.ChatRoomID, seen []model.DirectoryUserID) (int, error) {
	keep := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		keep[string(id)] = struct{}{}
	}

	q := r.collection().
		Where("room_id", "==", string(roomID)).
		Where("state", "in", r.activeStates())
	docs, err := readAll[membershipDoc](ctx, q)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list active memberships", goerr.V("room_id", roomID))
	}

	var refs []*firestore.DocumentRef
	for _, d := range docs {
		if _, ok := keep[d.UserID]; !ok {
			refs = append(refs, r.ref(model.MembershipKey{RoomID: roomID, UserID: model.DirectoryUserID(d.UserID)}))
		}
	}

	updates := []firestore.Update{{Path: "state", Value: string(types.MembershipLeft)}}
	if err := updateBulk(ctx, r.client, refs, updates); err != nil {
		return 0, goerr.Wrap(err, "failed to mark stale memberships", goerr.V("room_id", roomID))
	}
	return len(refs), nil
}

func (r *membershipRepository) Get(ctx context.Context, key model.MembershipKey) (*model.Membership, error) {
	doc, err := r.ref(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "membership not found",
				goerr.V("room_id", key.RoomID), goerr.V("user_id", key.UserID))
		}
		return nil, goerr.Wrap(err, "failed to get membership",
			goerr.V("room_id", key.RoomID), goerr.V("user_id", key.UserID))
	}

	var d membershipDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal membership")
	}
	return d.toModel(), nil
}

func (r *membershipRepository) List(ctx context.Context, filter model.MembershipFilter) ([]*model.Membership, error) {
	q := r.collection().Query
	if filter.RoomID != "" {
		q = q.Where("room_id", "==", string(filter.RoomID))
	}
	if filter.UserID != "" {
		q = q.Where("user_id", "==", string(filter.UserID))
	}

	docs, err := readAll[membershipDoc](ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memberships")
	}

	var result []*model.Membership
	for _, d := range docs {
		m := d.toModel()
		if filter.Match(m) {
			result = append(result, m)
		}
	}

	slices.SortFunc(result, func(a, b *model.Membership) int {
		return cmp.Or(
			strings.Compare(string(a.RoomID), string(b.RoomID)),
			strings.Compare(string(a.UserID), string(b.UserID)),
		)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *membershipRepository) Count(ctx context.Context) (int, error) {
	n, err := countQuery(ctx, r.collection().Where("state", "in", r.activeStates()))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count memberships")
	}
	return n, nil
}
