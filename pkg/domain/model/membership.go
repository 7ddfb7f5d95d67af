package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// Membership relates a user to a room. (RoomID, UserID) is unique.
type Membership struct {
	RoomID     ChatRoomID
	UserID     DirectoryUserID
	State      types.MembershipState
	PowerLevel int
	JoinedAt   time.Time
	SyncedAt   time.Time
}

// MembershipKey is the unique key of a membership
type MembershipKey struct {
	RoomID ChatRoomID
	UserID DirectoryUserID
}

// Key returns the unique key of the membership
func (m *Membership) Key() MembershipKey {
	return MembershipKey{RoomID: m.RoomID, UserID: m.UserID}
}

// Validate checks the fields required for a cache write
func (m *Membership) Validate() error {
	if m.RoomID == "" || m.UserID == "" {
		return goerr.Wrap(ErrUpstreamRejected, "membership requires room and user",
			goerr.V("room_id", m.RoomID), goerr.V("user_id", m.UserID))
	}
	if !m.State.IsValid() {
		return goerr.Wrap(ErrUpstreamRejected, "membership has invalid state",
			goerr.V("room_id", m.RoomID), goerr.V("user_id", m.UserID), goerr.V("state", m.State))
	}
	return nil
}
