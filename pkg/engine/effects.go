package engine

import (
	"context"

	"github.com/dukex/signoff/pkg/models"
)

// effect describes a committed transition.
type effect struct {
	action     models.Action
	actor      string
	comments   string
	stepNumber int
	fromStatus models.InstanceStatus
	toStatus   models.InstanceStatus
	kind       models.NotificationKind
	instance   *models.WorkflowInstance
}

// afterCommit records, syncs and notifies. The transition is already durable, so
// failures are logged and the caller's cancellation is ignored.
func (e *Engine) afterCommit(ctx context.Context, template *models.WorkflowTemplate, fx effect) {
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()

	if e.audit != nil {
		err := e.audit.Record(ctx, models.AuditEntry{
			InstanceID: fx.instance.ID,
			Action:     fx.action,
			Actor:      fx.actor,
			StepNumber: fx.stepNumber,
			FromStatus: fx.fromStatus,
			ToStatus:   fx.toStatus,
			Comments:   fx.comments,
			Timestamp:  now,
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to record audit entry", "instance_id", fx.instance.ID, "action", fx.action, "error", err)
		}
	}

	if e.sync != nil {
		if err := e.sync.Push(ctx, fx.instance); err != nil {
			e.logger.WarnContext(ctx, "resource status not synchronized",
				"instance_id", fx.instance.ID,
				"status", fx.instance.Status,
				"error", err,
			)
		}
	}

	if e.notifier != nil && shouldNotify(template, fx.kind) {
		e.notifier.Notify(ctx, models.Notification{
			Kind:       fx.kind,
			Actor:      fx.actor,
			Recipients: recipients(fx.instance),
			Instance:   fx.instance.Clone(),
			Comments:   fx.comments,
			OccurredAt: now,
		})
	}
}

func shouldNotify(template *models.WorkflowTemplate, kind models.NotificationKind) bool {
	switch kind {
	case models.NotifyStarted:
		return template.NotifyOnStart
	case models.NotifyApproved, models.NotifyRejected, models.NotifyCancelled:
		return template.NotifyOnComplete
	default:
		return true
	}
}

// recipients are the approvers who can act next, or the requester once the instance is finished.
func recipients(instance *models.WorkflowInstance) []string {
	if !instance.Status.IsTerminal() {
		return append([]string(nil), instance.CurrentApprovers...)
	}

	if instance.RequestedBy == "" || instance.RequestedBy == models.SystemActor {
		return nil
	}

	return []string{instance.RequestedBy}
}
