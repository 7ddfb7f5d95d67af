package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

type chatRoomRepository struct {
	mu    sync.RWMutex
	rooms map[model.ChatRoomID]*model.ChatRoom
}

func newChatRoomRepository() *chatRoomRepository {
	return &chatRoomRepository{
		rooms: make(map[model.ChatRoomID]*model.ChatRoom),
	}
}

func (r *chatRoomRepository) Upsert(ctx context.Context, rooms []*model.ChatRoom) error {
	for _, room := range rooms {
		if err := room.Validate(); err != nil {
			return goerr.Wrap(err, "invalid chat room")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range rooms {
		roomCopy := *room
		r.rooms[room.ID] = &roomCopy
	}
	return nil
}

func (r *chatRoomRepository) MarkStaleExcept(ctx context.Context, seen []model.ChatRoomID) (int, error) {
	keep := make(map[model.ChatRoomID]struct{}, len(seen))
	for _, id := range seen {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, room := range r.rooms {
		if _, ok := keep[id]; ok || !room.Active {
			continue
		}
		roomCopy := *room
		roomCopy.Active = false
		r.rooms[id] = &roomCopy
		n++
	}
	return n, nil
}

func (r *chatRoomRepository) Get(ctx context.Context, id model.ChatRoomID) (*model.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "chat room not found", goerr.V("id", id))
	}
	roomCopy := *room
	return &roomCopy, nil
}

func (r *chatRoomRepository) List(ctx context.Context, filter model.RoomFilter) ([]*model.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rooms []*model.ChatRoom
	for _, room := range r.rooms {
		if !filter.Match(room) {
			continue
		}
		roomCopy := *room
		rooms = append(rooms, &roomCopy)
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
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, room := range r.rooms {
		if room.Active {
			n++
		}
	}
	return n, nil
}
