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

type chatRoomRepository struct {
	collections
}

var _ interfaces.ChatRoomRepository = &chatRoomRepository{}

type chatRoomDoc struct {
	ID          string    `firestore:"id"`
	Name        string    `firestore:"name"`
	Topic       string    `firestore:"topic"`
	MemberCount int       `firestore:"member_count"`
	Visibility  string    `firestore:"visibility"`
	Encrypted   bool      `firestore:"encrypted"`
	Bridged     bool      `firestore:"bridged"`
	Active      bool      `firestore:"active"`
	SyncedAt    time.Time `firestore:"synced_at"`
}

func toChatRoomDoc(room *model.ChatRoom) *chatRoomDoc {
	return &chatRoomDoc{
		ID:          string(room.ID),
		Name:        room.Name,
		Topic:       room.Topic,
		MemberCount: room.MemberCount,
		Visibility:  string(room.Visibility),
		Encrypted:   room.Encrypted,
		Bridged:     room.Bridged,
		Active:      room.Active,
		SyncedAt:    room.SyncedAt,
	}
}

func (d *chatRoomDoc) toModel() *model.ChatRoom {
	return &model.ChatRoom{
		ID:          model.ChatRoomID(d.ID),
		Name:        d.Name,
		Topic:       d.Topic,
		MemberCount: d.MemberCount,
		Visibility:  types.Visibility(d.Visibility),
		Encrypted:   d.Encrypted,
		Bridged:     d.Bridged,
		Active:      d.Active,
		SyncedAt:    d.SyncedAt,
	}
}

func (r *chatRoomRepository) collection() *firestore.CollectionRef {
	return r.get(ChatRoomsCollection)
}

func (r *chatRoomRepository) Upsert(ctx context.Context, rooms []*model.ChatRoom) error {
	sets := make([]bulkSet, 0, len(rooms))
	for _, room := range rooms {
		if err := room.Validate(); err != nil {
			return goerr.Wrap(err, "invalid chat room")
		}
		sets = append(sets, bulkSet{
			ref:  r.collection().Doc(docID(string(room.ID))),
			data: toChatRoomDoc(room),
		})
	}

	if err := writeBulk(ctx, r.client, sets); err != nil {
		return goerr.Wrap(err, "failed to upsert chat rooms", goerr.V("count", len(rooms)))
	}
	return nil
}

func (r *chatRoomRepository) MarkStaleExcept(ctx context.Context, seen []model.ChatRoomID) (int, error) {
	keep := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		keep[string(id)] = struct{}{}
	}

	docs, err := readAll[chatRoomDoc](ctx, r.collection().Where("active", "==", true))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list active chat rooms")
	}

	var refs []*firestore.DocumentRef
	for _, d := range docs {
		if _, ok := keep[d.ID]; !ok {
			refs = append(refs, r.collection().Doc(docID(d.ID)))
		}
	}

	if err := updateBulk(ctx, r.client, refs, []firestore.Update{{Path: "active", Value: false}}); err != nil {
		return 0, goerr.Wrap(err, "failed to deactivate stale chat rooms")
	}
	return len(refs), nil
}

func (r *chatRoomRepository) Get(ctx context.Context, id model.ChatRoomID) (*model.ChatRoom, error) {
	doc, err := r.collection().Doc(docID(string(id))).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "chat room not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get chat room", goerr.V("id", id))
	}

	var d chatRoomDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal chat room", goerr.V("id", id))
	}
	return d.toModel(), nil
}

func (r *chatRoomRepository) List(ctx context.Context, filter model.RoomFilter) ([]*model.ChatRoom, error) {
	q := r.collection().Query
	if filter.ActiveOnly {
		q = q.Where("active", "==", true)
	}
	if filter.MinMembers > 0 {
		q = q.Where("member_count", ">=", filter.MinMembers)
	}

	docs, err := readAll[chatRoomDoc](ctx, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list chat rooms")
	}

	var rooms []*model.ChatRoom
	for _, d := range docs {
		room := d.toModel()
		if filter.Match(room) {
			rooms = append(rooms, room)
		}
	}

	slices.SortFunc(rooms, func(a, b *model.ChatRoom) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if filter.Limit > 0 && len(rooms) > filter.Limit {
		rooms = rooms[:filter.Limit]
	}
	return rooms, nil
}

func (r *chatRoomRepository) Count(ctx context.Context) (int, error) {
	n, err := countQuery(ctx, r.collection().Where("active", "==", true))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count chat rooms")
	}
	return n, nil
}
