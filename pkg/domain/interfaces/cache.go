package interfaces

import (
	"context"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// DirectoryUserRepository mirrors identity-provider users.
//
// Upsert is idempotent and atomic per record: concurrent readers observe either
// the previous or the new version of a record, never a mix.
// MarkStaleExcept deactivates every active user whose ID is not in seen and
// returns how many records changed. Records are never physically deleted.
type DirectoryUserRepository interface {
	Upsert(ctx context.Context, users []*model.DirectoryUser) error
	MarkStaleExcept(ctx context.Context, seen []model.DirectoryUserID) (int, error)
	Get(ctx context.Context, id model.DirectoryUserID) (*model.DirectoryUser, error)
	List(ctx context.Context, filter model.UserFilter) ([]*model.DirectoryUser, error)
	// Count returns the number of active users
	Count(ctx context.Context) (int, error)
}

// ChatRoomRepository mirrors chat platform rooms
type ChatRoomRepository interface {
	Upsert(ctx context.Context, rooms []*model.ChatRoom) error
	MarkStaleExcept(ctx context.Context, seen []model.ChatRoomID) (int, error)
	Get(ctx context.Context, id model.ChatRoomID) (*model.ChatRoom, error)
	List(ctx context.Context, filter model.RoomFilter) ([]*model.ChatRoom, error)
	// Count returns the number of active rooms
	Count(ctx context.Context) (int, error)
}

// MembershipRepository mirrors room memberships, unique on (room, user).
// MarkStaleExcept is scoped to one room: active memberships of roomID whose
// user is not in seen transition to "left".
type MembershipRepository interface {
	Upsert(ctx context.Context, memberships []*model.Membership) error
	MarkStaleExcept(ctx context.Context, roomID model.ChatRoomID, seen []model.DirectoryUserID) (int, error)
	Get(ctx context.Context, key model.MembershipKey) (*model.Membership, error)
	List(ctx context.Context, filter model.MembershipFilter) ([]*model.Membership, error)
	// Count returns the number of active (joined or invited) memberships
	Count(ctx context.Context) (int, error)
}

// NoteRepository stores admin-authored annotations. Sync never writes here.
type NoteRepository interface {
	Put(ctx context.Context, note *model.AdminNote) error
	Get(ctx context.Context, id model.NoteID) (*model.AdminNote, error)
	ListByEntity(ctx context.Context, entityType types.EntityType, entityID string) ([]*model.AdminNote, error)
	Delete(ctx context.Context, id model.NoteID) error
}
