package types

import "fmt"

// DispatchKind is the operation a dispatch job performs per target
type DispatchKind string

const (
	DispatchInvite        DispatchKind = "invite"
	DispatchDirectMessage DispatchKind = "direct-message"
	DispatchBroadcast     DispatchKind = "broadcast"
)

// AllDispatchKinds returns all valid dispatch kinds
func AllDispatchKinds() []DispatchKind {
	return []DispatchKind{
		DispatchInvite,
		DispatchDirectMessage,
		DispatchBroadcast,
	}
}

// IsValid checks if the dispatch kind is valid
func (k DispatchKind) IsValid() bool {
	switch k {
	case DispatchInvite, DispatchDirectMessage, DispatchBroadcast:
		return true
	default:
		return false
	}
}

// String returns the string representation of the dispatch kind
func (k DispatchKind) String() string {
	return string(k)
}

// ParseDispatchKind parses a string into a DispatchKind
func ParseDispatchKind(s string) (DispatchKind, error) {
	k := DispatchKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("invalid dispatch kind: %s", s)
	}
	return k, nil
}

// DispatchOutcome is the state of one target within a job
type DispatchOutcome string

const (
	OutcomePending DispatchOutcome = "pending"
	OutcomeSuccess DispatchOutcome = "success"
	OutcomeFailure DispatchOutcome = "failure"
)

// IsTerminal reports whether the outcome is final for the current execution
func (o DispatchOutcome) IsTerminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// JobStatus is the lifecycle state of a dispatch job
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job has finished executing
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}
