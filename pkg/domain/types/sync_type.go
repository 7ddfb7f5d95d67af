package types

import "fmt"

// SyncType identifies which directory a sync run refreshes
type SyncType string

const (
	SyncTypeUsers       SyncType = "users"
	SyncTypeRooms       SyncType = "rooms"
	SyncTypeMemberships SyncType = "memberships"
	SyncTypeFull        SyncType = "full"
)

// AllSyncTypes returns all valid sync types
func AllSyncTypes() []SyncType {
	return []SyncType{
		SyncTypeUsers,
		SyncTypeRooms,
		SyncTypeMemberships,
		SyncTypeFull,
	}
}

// IsValid checks if the sync type is valid
func (s SyncType) IsValid() bool {
	switch s {
	case SyncTypeUsers,
		SyncTypeRooms,
		SyncTypeMemberships,
		SyncTypeFull:
		return true
	default:
		return false
	}
}

// Components returns the single-entity sync types covered by s, in the order
// they must run. Memberships depend on rooms, so rooms always come first.
func (s SyncType) Components() []SyncType {
	if s == SyncTypeFull {
		return []SyncType{SyncTypeUsers, SyncTypeRooms, SyncTypeMemberships}
	}
	return []SyncType{s}
}

// EntityType returns the cached entity type refreshed by s.
// SyncTypeFull has no single entity type and returns "".
func (s SyncType) EntityType() EntityType {
	switch s {
	case SyncTypeUsers:
		return EntityTypeUser
	case SyncTypeRooms:
		return EntityTypeRoom
	case SyncTypeMemberships:
		return EntityTypeMembership
	default:
		return ""
	}
}

// String returns the string representation of the sync type
func (s SyncType) String() string {
	return string(s)
}

// ParseSyncType parses a string into a SyncType
func ParseSyncType(s string) (SyncType, error) {
	t := SyncType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid sync type: %s", s)
	}
	return t, nil
}

// SyncStatus represents the lifecycle state of a sync run
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "PENDING"
	SyncStatusRunning   SyncStatus = "RUNNING"
	SyncStatusCompleted SyncStatus = "COMPLETED"
	SyncStatusFailed    SyncStatus = "FAILED"
	SyncStatusCancelled SyncStatus = "CANCELLED"
)

// IsValid checks if the sync status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending,
		SyncStatusRunning,
		SyncStatusCompleted,
		SyncStatusFailed,
		SyncStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

// String returns the string representation of the sync status
func (s SyncStatus) String() string {
	return string(s)
}

// SyncMode tells whether a run fetched everything or only changed records
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// TriggerSource records what started a sync run
type TriggerSource string

const (
	TriggerScheduled TriggerSource = "scheduled"
	TriggerManual    TriggerSource = "manual"
	TriggerWarmup    TriggerSource = "warmup"
	TriggerEvent     TriggerSource = "event"
)

// IsValid checks if the trigger source is valid
func (s TriggerSource) IsValid() bool {
	switch s {
	case TriggerScheduled, TriggerManual, TriggerWarmup, TriggerEvent:
		return true
	default:
		return false
	}
}
