package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

type membershipRepository struct {
	mu sync.RWMutex
	// indexed by room so that room-scoped reconciliation stays cheap
	rooms map[model.ChatRoomID]map[model.DirectoryUserID]*model.Membership
}

func newMembershipRepository() *membershipRepository {
	return &membershipRepository{
		rooms: make(map[model.ChatRoomID]map[model.DirectoryUserID]*model.Membership),
	}
}

func (r *membershipRepository) Upsert(ctx context.Context, memberships []*model.Membership) error {
	for _, m := range memberships {
		if err := m.Validate(); err != nil {
			return goerr.Wrap(err, "invalid membership")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range memberships {
		members, ok := r.rooms[m.RoomID]
		if !ok {
			members = make(map[model.DirectoryUserID]*model.Membership)
			r.rooms[m.RoomID] = members
		}
		mCopy := *m
		members[m.UserID] = &mCopy
	}
	return nil
}

// MarkStaleExcept moves active memberships of roomID whose user is not in
// seen to "left"
func (r *membershipRepository) MarkStaleExcept(ctx context.Context, roomID model.ChatRoomID, seen []model.DirectoryUserID) (int, error) {
	keep := make(map[model.DirectoryUserID]struct{}, len(seen))
	for _, id := range seen {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for userID, m := range r.rooms[roomID] {
		if _, ok := keep[userID]; ok || !m.State.IsActive() {
			continue
		}
		mCopy := *m
		mCopy.State = types.MembershipLeft
		r.rooms[roomID][userID] = &mCopy
		n++
	}
	return n, nil
}

func (r *membershipRepository) Get(ctx context.Context, key model.MembershipKey) (*model.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.rooms[key.RoomID][key.UserID]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "membership not found",
			goerr.V("room_id", key.RoomID), goerr.V("user_id", key.UserID))
	}
	mCopy := *m
	return &mCopy, nil
}

// List returns memberships ordered by room then user
func (r *membershipRepository) List(ctx context.Context, filter model.MembershipFilter) ([]*model.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Membership
	collect := func(members map[model.DirectoryUserID]*model.Membership) {
		for _, m := range members {
			if !filter.Match(m) {
				continue
			}
			mCopy := *m
			result = append(result, &mCopy)
		}
	}

	if filter.RoomID != "" {
		collect(r.rooms[filter.RoomID])
	} else {
		for _, members := range r.rooms {
			collect(members)
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
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, members := range r.rooms {
		for _, m := range members {
			if m.State.IsActive() {
				n++
			}
		}
	}
	return n, nil
}
