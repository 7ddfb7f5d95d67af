package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// ChatRoomID is the external ID of a room on the chat platform
type ChatRoomID string

// ChatRoom is a room or space on the chat platform
type ChatRoom struct {
	ID          ChatRoomID
	Name        string
	Topic       string
	MemberCount int
	Visibility  types.Visibility
	Encrypted   bool
	Bridged     bool // room is shared with the secondary network
	Active      bool
	SyncedAt    time.Time
}

// Validate checks the fields required for a cache write
func (r *ChatRoom) Validate() error {
	if r.ID == "" {
		return goerr.Wrap(ErrUpstreamRejected, "chat room has no ID", goerr.V("name", r.Name))
	}
	if r.Visibility != "" && !r.Visibility.IsValid() {
		return goerr.Wrap(ErrUpstreamRejected, "chat room has invalid visibility", goerr.V("id", r.ID), goerr.V("visibility", r.Visibility))
	}
	return nil
}

// Key returns the reconciliation key of the room
func (r *ChatRoom) Key() string {
	return string(r.ID)
}
