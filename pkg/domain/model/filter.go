package model

import (
	"strings"

	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// UserFilter selects cached directory users. Zero values match everything.
type UserFilter struct {
	IDs          []DirectoryUserID
	ActiveOnly   bool
	NameContains string
	Bridged      *bool
	Limit        int
}

// Match reports whether u satisfies every set condition except Limit
func (f UserFilter) Match(u *DirectoryUser) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, u.ID) {
		return false
	}
	if f.ActiveOnly && !u.Active {
		return false
	}
	if f.NameContains != "" && !containsFold(u.DisplayName, f.NameContains) && !containsFold(u.Email, f.NameContains) {
		return false
	}
	if f.Bridged != nil && (u.BridgeIdentity != "") != *f.Bridged {
		return false
	}
	return true
}

// RoomFilter selects cached chat rooms
type RoomFilter struct {
	IDs          []ChatRoomID
	ActiveOnly   bool
	NameContains string
	Bridged      *bool
	MinMembers   int
	Limit        int
}

// Match reports whether r satisfies every set condition except Limit
func (f RoomFilter) Match(r *ChatRoom) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, r.ID) {
		return false
	}
	if f.ActiveOnly && !r.Active {
		return false
	}
	if f.NameContains != "" && !containsFold(r.Name, f.NameContains) && !containsFold(r.Topic, f.NameContains) {
		return false
	}
	if f.Bridged != nil && r.Bridged != *f.Bridged {
		return false
	}
	if r.MemberCount < f.MinMembers {
		return false
	}
	return true
}

// MembershipFilter selects cached memberships
type MembershipFilter struct {
	RoomID ChatRoomID
	UserID DirectoryUserID
	States []types.MembershipState
	Limit  int
}

// Match reports whether m satisfies every set condition except Limit
func (f MembershipFilter) Match(m *Membership) bool {
	if f.RoomID != "" && m.RoomID != f.RoomID {
		return false
	}
	if f.UserID != "" && m.UserID != f.UserID {
		return false
	}
	if len(f.States) > 0 && !containsID(f.States, m.State) {
		return false
	}
	return true
}

// CacheQuery is the read contract exposed to the rest of the application
type CacheQuery struct {
	EntityType types.EntityType
	Users      UserFilter
	Rooms      RoomFilter
	Members    MembershipFilter
}

// CacheResult holds the records matching a CacheQuery; only the slice for the
// queried entity type is populated
type CacheResult struct {
	EntityType  types.EntityType
	Users       []*DirectoryUser
	Rooms       []*ChatRoom
	Memberships []*Membership
}

// Len returns the number of records in the result
func (r *CacheResult) Len() int {
	return len(r.Users) + len(r.Rooms) + len(r.Memberships)
}

func containsID[T comparable](ids []T, id T) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
