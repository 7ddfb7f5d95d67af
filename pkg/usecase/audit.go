package usecase

import (
	"context"

	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

type nopAudit struct{}

func (nopAudit) Record(context.Context, model.AuditEvent) {}

const systemActor = "system"

func (uc *UseCases) auditSyncRun(ctx context.Context, actor string, run *model.SyncRun) {
	details := map[string]any{
		"sync_run_id":     string(run.ID),
		"sync_type":       string(run.Type),
		"status":          string(run.Status),
		"trigger":         string(run.Trigger),
		"items_seen":      run.ItemsSeen,
		"items_processed": run.ItemsProcessed,
		"items_skipped":   run.ItemsSkipped,
	}
	if run.Mode != "" {
		details["mode"] = string(run.Mode)
	}
	if run.LowConfidence {
		details["low_confidence"] = true
	}
	if run.Error != "" {
		details["error"] = run.Error
	}

	uc.audit.Record(ctx, model.AuditEvent{
		Timestamp: uc.now(),
		Actor:     actor,
		EventType: model.AuditSyncRunTransition,
		Details:   details,
	})
}

func (uc *UseCases) auditDispatch(ctx context.Context, eventType model.AuditEventType, job *model.DispatchJob, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["job_id"] = string(job.ID)
	details["kind"] = string(job.Kind)

	uc.audit.Record(ctx, model.AuditEvent{
		Timestamp: uc.now(),
		Actor:     job.Actor,
		EventType: eventType,
		Details:   details,
	})
}
