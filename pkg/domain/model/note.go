package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// NoteID identifies an admin note
type NoteID string

// AdminNote is a locally authored annotation on a cached entity. Notes are
// stored apart from directory records so that sync writes never touch them.
type AdminNote struct {
	ID         NoteID
	EntityType types.EntityType
	EntityID   string
	Body       string
	Author     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks that the note can be stored
func (n *AdminNote) Validate() error {
	if !n.EntityType.IsValid() {
		return goerr.New("invalid entity type for note", goerr.V("entity_type", n.EntityType))
	}
	if n.EntityID == "" {
		return goerr.New("note requires entity ID")
	}
	if n.Body == "" {
		return goerr.New("note body is empty", goerr.V("entity_id", n.EntityID))
	}
	return nil
}
