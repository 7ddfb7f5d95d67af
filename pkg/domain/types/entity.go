package types

import "fmt"

// EntityType identifies a kind of cached directory record
type EntityType string

const (
	EntityTypeUser       EntityType = "user"
	EntityTypeRoom       EntityType = "room"
	EntityTypeMembership EntityType = "membership"
)

// IsValid checks if the entity type is valid
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTypeUser, EntityTypeRoom, EntityTypeMembership:
		return true
	default:
		return false
	}
}

// String returns the string representation of the entity type
func (e EntityType) String() string {
	return string(e)
}

// ParseEntityType parses a string into an EntityType. Plural forms used in
// URLs ("users", "rooms", "memberships") are accepted as well.
func ParseEntityType(s string) (EntityType, error) {
	switch s {
	case "users":
		return EntityTypeUser, nil
	case "rooms":
		return EntityTypeRoom, nil
	case "memberships":
		return EntityTypeMembership, nil
	}
	e := EntityType(s)
	if !e.IsValid() {
		return "", fmt.Errorf("invalid entity type: %s", s)
	}
	return e, nil
}

// Visibility of a chat room
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// IsValid checks if the visibility is valid
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// MembershipState is the relation of a user to a room
type MembershipState string

const (
	MembershipJoined  MembershipState = "joined"
	MembershipInvited MembershipState = "invited"
	MembershipLeft    MembershipState = "left"
	MembershipBanned  MembershipState = "banned"
)

// IsValid checks if the membership state is valid
func (s MembershipState) IsValid() bool {
	switch s {
	case MembershipJoined, MembershipInvited, MembershipLeft, MembershipBanned:
		return true
	default:
		return false
	}
}

// IsActive reports whether the user is currently part of the room
func (s MembershipState) IsActive() bool {
	return s == MembershipJoined || s == MembershipInvited
}

// ParseMembershipState parses a string into a MembershipState
func ParseMembershipState(s string) (MembershipState, error) {
	state := MembershipState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid membership state: %s", s)
	}
	return state, nil
}
