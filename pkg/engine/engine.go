// Package engine implements the workflow instance state machine and the bulk coordinator.
//
// Every transition loads the instance, validates the request, computes the next state on a
// copy, resolves approvers when advancing and commits with a conditional write keyed on the
// instance version. Audit, resource sync and notification run only after a commit succeeds.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/signoff/pkg/audit"
	"github.com/dukex/signoff/pkg/metrics"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/notify"
	"github.com/dukex/signoff/pkg/otelhelper"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/resolver"
	"github.com/dukex/signoff/pkg/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ApproverResolver computes the approvers holding role around a resource.
type ApproverResolver interface {
	Resolve(ctx context.Context, role string, level models.ApproverContext, resource models.ResourceRef) ([]string, error)
}

// CapabilityChecker reports whether a user holds a capability.
type CapabilityChecker interface {
	Can(ctx context.Context, user string, capability models.Capability) (bool, error)
}

// StatusPusher mirrors an instance status onto its resource.
type StatusPusher interface {
	Push(ctx context.Context, instance *models.WorkflowInstance) error
}

const defaultBulkConcurrency = 8

type Engine struct {
	templates   persistence.TemplateRepository
	instances   persistence.InstanceRepository
	resolver    ApproverResolver
	permissions CapabilityChecker

	audit    audit.Sink
	sync     StatusPusher
	notifier notify.Notifier
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	bulkConcurrency int
}

// Option customizes an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) { e.audit = sink }
}

func WithStatusPusher(pusher StatusPusher) Option {
	return func(e *Engine) { e.sync = pusher }
}

func WithNotifier(notifier notify.Notifier) Option {
	return func(e *Engine) { e.notifier = notifier }
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = recorder }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithBulkConcurrency bounds how many bulk items run at once.
func WithBulkConcurrency(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.bulkConcurrency = limit
		}
	}
}

// New creates an Engine. Audit entries go to the audit repository of p unless WithAuditSink is given.
func New(p persistence.Persistence, approvers ApproverResolver, permissions CapabilityChecker, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		templates:       p.TemplateRepository(),
		instances:       p.InstanceRepository(),
		resolver:        approvers,
		permissions:     permissions,
		audit:           audit.NewRepositorySink(p.AuditRepository()),
		tracer:          otelhelper.Tracer("signoff/engine"),
		logger:          logger.With("module", "engine"),
		now:             time.Now,
		bulkConcurrency: defaultBulkConcurrency,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateRequest starts an instance of a template for a resource.
type CreateRequest struct {
	TemplateID             string
	Resource               models.ResourceRef
	RequestedBy            string
	PreviousResourceStatus string
}

// Create starts a new instance. It fails with Conflict when the resource already has a
// non-terminal instance and with NoApproversResolved when step 1 resolves to nobody.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.WorkflowInstance, error) {
	const op = "Create"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.Create",
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
		attribute.String(otelhelper.ResourceTypeKey, req.Resource.Type),
		attribute.String(otelhelper.ResourceIDKey, req.Resource.ID),
	)
	defer span.End()

	instance, err := e.create(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String("error.kind", string(services.KindOf(err))))

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	return instance, nil
}

func (e *Engine) create(ctx context.Context, op string, req CreateRequest) (*models.WorkflowInstance, error) {
	if req.TemplateID == "" || req.Resource.Type == "" || req.Resource.ID == "" {
		return nil, services.Validation(op, "template_id, resource_type and resource_id are required", nil)
	}

	template, err := e.templates.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, services.FromPersistence(op, err)
	}

	return e.start(ctx, op, template, req)
}

func (e *Engine) start(ctx context.Context, op string, template *models.WorkflowTemplate, req CreateRequest) (*models.WorkflowInstance, error) {
	if template.ResourceType != req.Resource.Type {
		return nil, services.Validation(op,
			fmt.Sprintf("template %s applies to %s, not %s", template.ID, template.ResourceType, req.Resource.Type), nil)
	}

	steps, err := template.Sequence()
	if err != nil {
		return nil, services.Validation(op, "template has invalid steps", err)
	}

	_, err = e.instances.ActiveForResource(ctx, req.Resource.Type, req.Resource.ID)
	if err == nil {
		return nil, services.Conflict(op,
			fmt.Sprintf("resource %s/%s already has an active workflow", req.Resource.Type, req.Resource.ID),
			persistence.ErrActiveInstanceExists)
	}

	if !persistence.IsInstanceNotFound(err) {
		return nil, fmt.Errorf("%s: failed to check active instances: %w", op, err)
	}

	first, ok := steps.At(1)
	if !ok {
		return nil, services.Validation(op, fmt.Sprintf("template %s has no steps", template.ID), models.ErrStepsRequired)
	}

	approvers, err := e.resolve(ctx, op, first.ApproverRole, first.ApproverContext, req.Resource)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()

	status := models.StatusPending
	if template.AutoStart {
		status = models.StatusInProgress
	}

	instance := &models.WorkflowInstance{
		TemplateID:             template.ID,
		ResourceType:           req.Resource.Type,
		ResourceID:             req.Resource.ID,
		ResourceName:           req.Resource.Name,
		Status:                 status,
		CurrentStep:            1,
		CurrentApprovers:       approvers,
		StepsCompleted:         []models.StepAction{},
		RequestedBy:            req.RequestedBy,
		PreviousResourceStatus: req.PreviousResourceStatus,
		StepStartedAt:          now,
		CreatedAt:              now,
	}

	if err := e.instances.Create(ctx, instance); err != nil {
		if persistence.IsActiveInstanceExists(err) {
			e.metrics.Conflict(string(models.ActionStart))
		}

		return nil, services.FromPersistence(op, err)
	}

	e.metrics.Transition(string(models.ActionStart), string(instance.Status))
	e.logger.InfoContext(ctx, "workflow started",
		"instance_id", instance.ID,
		"template_id", template.ID,
		"resource_type", instance.ResourceType,
		"resource_id", instance.ResourceID,
		"approvers", len(approvers),
	)

	e.afterCommit(ctx, template, effect{
		action:     models.ActionStart,
		actor:      actorOrSystem(req.RequestedBy),
		stepNumber: 1,
		toStatus:   instance.Status,
		kind:       models.NotifyStarted,
		instance:   instance,
	})

	return instance, nil
}

// ResourceCompletion reports a resource that became eligible for approval.
type ResourceCompletion struct {
	Resource       models.ResourceRef
	Attributes     map[string]any
	RequestedBy    string
	PreviousStatus string
}

// RequestApproval starts an instance of the oldest template of the resource type whose
// trigger conditions match the attributes. It returns nil without error when none matches.
func (e *Engine) RequestApproval(ctx context.Context, completion ResourceCompletion) (*models.WorkflowInstance, error) {
	const op = "RequestApproval"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.RequestApproval",
		attribute.String(otelhelper.ResourceTypeKey, completion.Resource.Type),
		attribute.String(otelhelper.ResourceIDKey, completion.Resource.ID),
	)
	defer span.End()

	if completion.Resource.Type == "" || completion.Resource.ID == "" {
		return nil, services.Validation(op, "resource_type and resource_id are required", nil)
	}

	templates, err := e.templates.ListByResourceType(ctx, completion.Resource.Type)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("%s: failed to list templates: %w", op, err)
	}

	for _, template := range templates {
		matched, err := template.TriggerConditions.Matches(completion.Attributes)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping template with invalid trigger conditions", "template_id", template.ID, "error", err)

			continue
		}

		if !matched {
			continue
		}

		instance, err := e.start(ctx, op, template, CreateRequest{
			TemplateID:             template.ID,
			Resource:               completion.Resource,
			RequestedBy:            completion.RequestedBy,
			PreviousResourceStatus: completion.PreviousStatus,
		})
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.TemplateIDKey, template.ID))

			return nil, err
		}

		return instance, nil
	}

	e.logger.DebugContext(ctx, "no template matched resource",
		"resource_type", completion.Resource.Type,
		"resource_id", completion.Resource.ID,
	)

	return nil, nil
}

func (e *Engine) resolve(ctx context.Context, op, role string, level models.ApproverContext, resource models.ResourceRef) ([]string, error) {
	approvers, err := e.resolver.Resolve(ctx, role, level, resource)

	switch {
	case err == nil:
		return approvers, nil
	case errors.Is(err, resolver.ErrNoApproversResolved):
		return nil, services.NoApprovers(op,
			fmt.Sprintf("no approvers with role %s at %s level for %s/%s", role, level, resource.Type, resource.ID), err)
	case errors.Is(err, models.ErrInvalidApproverContext):
		return nil, services.Validation(op, err.Error(), err)
	default:
		return nil, fmt.Errorf("%s: failed to resolve approvers: %w", op, err)
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return models.SystemActor
	}

	return actor
}
