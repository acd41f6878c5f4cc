// Package notify dispatches lifecycle notifications after committed transitions.
// Dispatch is fire-and-forget: failures are logged and never reach the caller.
package notify

import (
	"context"
	"log/slog"

	"github.com/dukex/signoff/pkg/eventbus"
	"github.com/dukex/signoff/pkg/events"
	"github.com/dukex/signoff/pkg/metrics"
	"github.com/dukex/signoff/pkg/models"
)

// Notifier receives notifications.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification)
}

// EventBusNotifier publishes notifications as workflow.* events keyed by instance id.
type EventBusNotifier struct {
	publisher eventbus.EventPublisher
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

func NewEventBusNotifier(publisher eventbus.EventPublisher, recorder *metrics.Recorder, logger *slog.Logger) *EventBusNotifier {
	return &EventBusNotifier{
		publisher: publisher,
		metrics:   recorder,
		logger:    logger.With("module", "notify"),
	}
}

func (n *EventBusNotifier) Notify(ctx context.Context, notification models.Notification) {
	instance := notification.Instance
	if instance == nil {
		return
	}

	base := events.NewBaseEvent(n.publisher.GenerateID(), events.NotificationEventType(notification.Kind))
	base.Timestamp = notification.OccurredAt

	event := events.WorkflowNotification{
		BaseEvent:    base,
		InstanceID:   instance.ID,
		TemplateID:   instance.TemplateID,
		ResourceType: instance.ResourceType,
		ResourceID:   instance.ResourceID,
		ResourceName: instance.ResourceName,
		Kind:         notification.Kind,
		Status:       instance.Status,
		CurrentStep:  instance.CurrentStep,
		Actor:        notification.Actor,
		Recipients:   notification.Recipients,
		Comments:     notification.Comments,
	}

	if err := n.publisher.Publish(ctx, instance.ID, event); err != nil {
		n.metrics.NotifyFailure()
		n.logger.WarnContext(ctx, "failed to dispatch notification",
			"kind", notification.Kind,
			"instance_id", instance.ID,
			"error", err,
		)

		return
	}

	n.logger.DebugContext(ctx, "notification dispatched", "kind", notification.Kind, "instance_id", instance.ID)
}

// LogNotifier only logs notifications.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification models.Notification) {
	if notification.Instance == nil {
		return
	}

	n.logger.InfoContext(ctx, "notification",
		"kind", notification.Kind,
		"instance_id", notification.Instance.ID,
		"actor", notification.Actor,
		"recipients", notification.Recipients,
	)
}

// Fanout delivers every notification to each notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, notification models.Notification) {
	for _, notifier := range f {
		notifier.Notify(ctx, notification)
	}
}
