package model

import "time"

// AuditEventType names an auditable transition
type AuditEventType string

const (
	AuditSyncRunTransition AuditEventType = "sync_run.transition"
	AuditDispatchSubmitted AuditEventType = "dispatch.submitted"
	AuditDispatchResult    AuditEventType = "dispatch.result"
	AuditDispatchFinished  AuditEventType = "dispatch.finished"
)

// AuditEvent is the structured record sent to the audit sink
type AuditEvent struct {
	Timestamp time.Time
	Actor     string
	EventType AuditEventType
	Details   map[string]any
}
