package interfaces

import (
	"context"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

// DirectoryProvider is the identity-provider listing contract
type DirectoryProvider interface {
	// ListUsers returns one page of users
	ListUsers(ctx context.Context, req model.PageRequest) (*model.Page[*model.DirectoryUser], error)

	// CountUsers is the lightweight count check. ok is false when the provider
	// cannot report a count.
	CountUsers(ctx context.Context) (count int, ok bool, err error)

	// SupportsModifiedSince reports whether ListUsers honours
	// PageRequest.ModifiedSince
	SupportsModifiedSince() bool
}

// ChatProvider is the chat-platform contract consumed by sync and dispatch.
// Send operations return errors classified with the model error taxonomy; a
// rate-limit response must satisfy errors.Is(err, model.ErrRateLimited).
type ChatProvider interface {
	ListRooms(ctx context.Context, req model.PageRequest) (*model.Page[*model.ChatRoom], error)
	ListRoomMembers(ctx context.Context, roomID model.ChatRoomID, req model.PageRequest) (*model.Page[*model.Membership], error)

	InviteToRoom(ctx context.Context, roomID model.ChatRoomID, userID model.DirectoryUserID) error
	SendDirectMessage(ctx context.Context, userID model.DirectoryUserID, text string) error
	PostToRoom(ctx context.Context, roomID model.ChatRoomID, text string) error
}
