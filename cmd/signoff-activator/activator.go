// Package main provides the activator service, which turns resource completion
// events into approval workflows.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/signoff/pkg/engine"
	"github.com/dukex/signoff/pkg/eventbus"
	"github.com/dukex/signoff/pkg/events"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/services"
)

// Requester starts approval workflows.
type Requester interface {
	RequestApproval(ctx context.Context, completion engine.ResourceCompletion) (*models.WorkflowInstance, error)
}

// Rememberer records the status a resource owner reported.
type Rememberer interface {
	Remember(ctx context.Context, resource models.ResourceRef, status string) error
}

// ActiveLookup finds the non-terminal instance for a resource.
type ActiveLookup interface {
	ActiveForResource(ctx context.Context, resourceType, resourceID string) (*models.WorkflowInstance, error)
}

// Activator consumes resource.completed events.
type Activator struct {
	subscriber eventbus.EventSubscriber
	requester  Requester
	statuses   Rememberer
	active     ActiveLookup
	logger     *slog.Logger
}

func NewActivator(
	subscriber eventbus.EventSubscriber,
	requester Requester,
	statuses Rememberer,
	active ActiveLookup,
	logger *slog.Logger,
) *Activator {
	return &Activator{
		subscriber: subscriber,
		requester:  requester,
		statuses:   statuses,
		active:     active,
		logger:     logger.With("module", "activator"),
	}
}

// Start registers the handler and begins consuming. It returns once the subscription is running.
func (a *Activator) Start(ctx context.Context) error {
	if err := a.subscriber.Handle(events.ResourceCompletedEvent, a.handle); err != nil {
		return fmt.Errorf("failed to register resource event handler: %w", err)
	}

	if err := a.subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to resource events: %w", err)
	}

	a.logger.InfoContext(ctx, "Subscribed to resource events")

	return nil
}

// Run consumes until ctx is done.
func (a *Activator) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("Activator context cancelled, stopping")

	return nil
}

func (a *Activator) handle(ctx context.Context, event any) error {
	completed, ok := event.(*events.ResourceCompleted)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	return a.HandleResourceCompleted(ctx, completed)
}

// HandleResourceCompleted starts the matching workflow. Errors that a redelivery cannot
// fix are logged and swallowed so the message is acknowledged.
func (a *Activator) HandleResourceCompleted(ctx context.Context, event *events.ResourceCompleted) error {
	resource := models.ResourceRef{
		Type: event.ResourceType,
		ID:   event.ResourceID,
		Name: event.ResourceName,
	}

	logger := a.logger.With(
		"event_id", event.ID,
		"resource_type", resource.Type,
		"resource_id", resource.ID,
	)

	// A resource under review keeps the status remembered when its workflow started.
	running, err := a.active.ActiveForResource(ctx, resource.Type, resource.ID)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Resource already has an active workflow", "instance_id", running.ID)

		return nil
	case !persistence.IsInstanceNotFound(err):
		return fmt.Errorf("failed to look up active workflow: %w", err)
	}

	if event.PreviousStatus != "" && resource.Type != "" && resource.ID != "" {
		if err := a.statuses.Remember(ctx, resource, event.PreviousStatus); err != nil {
			return fmt.Errorf("failed to remember resource status: %w", err)
		}
	}

	instance, err := a.requester.RequestApproval(ctx, engine.ResourceCompletion{
		Resource:       resource,
		Attributes:     event.Attributes,
		RequestedBy:    event.RequestedBy,
		PreviousStatus: event.PreviousStatus,
	})

	switch {
	case err == nil && instance == nil:
		logger.DebugContext(ctx, "No template matched resource")

		return nil
	case err == nil:
		logger.InfoContext(ctx, "Approval workflow started", "instance_id", instance.ID, "template_id", instance.TemplateID)

		return nil
	case isPermanent(err):
		logger.WarnContext(ctx, "Resource event not actionable", "kind", services.KindOf(err), "error", err)

		return nil
	default:
		return err
	}
}

func isPermanent(err error) bool {
	switch services.KindOf(err) {
	case services.KindConflict, services.KindNoApproversResolved, services.KindValidation, services.KindNotFound:
		return true
	default:
		return false
	}
}
