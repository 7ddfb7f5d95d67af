package usecase

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for use case layer
var (
	// Not found errors
	ErrJobNotFound    = goerr.New("dispatch job not found")
	ErrNoteNotFound   = goerr.New("note not found")
	ErrEntityNotFound = goerr.New("cached entity not found")

	// Status errors
	ErrJobRunning    = goerr.New("dispatch job is still running")
	ErrJobNotRunning = goerr.New("dispatch job is not running")

	// Input errors
	ErrNoTargets         = goerr.New("no dispatch targets matched")
	ErrInvalidTemplate   = goerr.New("invalid message template")
	ErrInvalidSyncType   = goerr.New("invalid sync type")
	ErrInvalidEntityType = goerr.New("invalid entity type")
	ErrInvalidRequest    = goerr.New("invalid request")

	// Other errors
	ErrProviderNotConfigured = goerr.New("provider is not configured")
	ErrShutdown              = goerr.New("service is shutting down")
	ErrRunTimeout            = goerr.New("sync run exceeded its time limit")
)

// Context keys for error values
const (
	NoteIDKey     = "note_id"
	EntityTypeKey = "entity_type"
	EntityIDKey   = "entity_id"
)
