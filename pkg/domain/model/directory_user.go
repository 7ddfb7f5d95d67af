package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// DirectoryUserID is the external user ID shared by the identity provider
// and the chat platform (e.g. "U012AB3CD")
type DirectoryUserID string

// DirectoryUser is an external identity mirrored into the cache
type DirectoryUser struct {
	ID             DirectoryUserID
	DisplayName    string
	Email          string
	BridgeIdentity string // identity on the bridged secondary network, if any
	Active         bool
	LastSeenAt     time.Time
	RemoteUpdated  time.Time // modification time reported by the provider
	SyncedAt       time.Time // last time a sync wrote this record
}

// Validate checks the fields required for a cache write
func (u *DirectoryUser) Validate() error {
	if u.ID == "" {
		return goerr.Wrap(ErrUpstreamRejected, "directory user has no ID", goerr.V("display_name", u.DisplayName))
	}
	return nil
}

// Key returns the reconciliation key of the user
func (u *DirectoryUser) Key() string {
	return string(u.ID)
}
