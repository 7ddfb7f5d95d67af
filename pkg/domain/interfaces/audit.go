package interfaces

import (
	"context"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

// AuditSink receives structured events for traceability. Implementations must
// not block the caller for long and must never fail the caller's operation.
type AuditSink interface {
	Record(ctx context.Context, event model.AuditEvent)
}
