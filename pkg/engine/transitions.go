package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/otelhelper"
	"github.com/dukex/signoff/pkg/persistence"
	"github.com/dukex/signoff/pkg/services"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrTerminal is wrapped by the Conflict returned for actions on a finished instance.
	ErrTerminal = errors.New("instance is in a terminal state")

	// ErrStepMismatch is wrapped by the Conflict returned when the acted-on step is no longer current.
	ErrStepMismatch = errors.New("step is not the current step")

	// ErrNotDue is returned by Escalate when the current step has not timed out.
	ErrNotDue = errors.New("step is not overdue")

	// ErrNoEscalationRole is returned by Escalate when the overdue step has no escalation role.
	ErrNoEscalationRole = errors.New("step has no escalation role")
)

// ActionRequest is a caller decision on an instance. StepNumber, when non-zero, must
// equal the current step.
type ActionRequest struct {
	InstanceID string
	Action     string
	Actor      string
	Comments   string
	StepNumber int
}

// Act dispatches approve, reject and cancel. Any other action is a validation error.
func (e *Engine) Act(ctx context.Context, req ActionRequest) (*models.WorkflowInstance, error) {
	action, err := models.ParseAction(req.Action)
	if err != nil {
		return nil, services.Validation("Act", err.Error(), err)
	}

	switch action {
	case models.ActionApprove:
		return e.decide(ctx, "Approve", models.ActionApprove, req)
	case models.ActionReject:
		return e.decide(ctx, "Reject", models.ActionReject, req)
	default:
		return e.Cancel(ctx, req.InstanceID, req.Actor, req.Comments)
	}
}

// Approve decides the current step. The last step approves the instance; any other
// step advances to the next one with freshly resolved approvers.
func (e *Engine) Approve(ctx context.Context, id, actor, comments string, stepNumber int) (*models.WorkflowInstance, error) {
	return e.decide(ctx, "Approve", models.ActionApprove, ActionRequest{
		InstanceID: id, Actor: actor, Comments: comments, StepNumber: stepNumber,
	})
}

// Reject finishes the instance as rejected regardless of the current step.
func (e *Engine) Reject(ctx context.Context, id, actor, comments string, stepNumber int) (*models.WorkflowInstance, error) {
	return e.decide(ctx, "Reject", models.ActionReject, ActionRequest{
		InstanceID: id, Actor: actor, Comments: comments, StepNumber: stepNumber,
	})
}

func (e *Engine) decide(ctx context.Context, op string, action models.Action, req ActionRequest) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine."+op,
		attribute.String(otelhelper.InstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.ActionKey, string(action)),
		attribute.String(otelhelper.ActorKey, req.Actor),
	)
	defer span.End()

	instance, err := e.applyDecision(ctx, op, action, req)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String("error.kind", string(services.KindOf(err))))

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(instance.Status)))

	return instance, nil
}

func (e *Engine) applyDecision(ctx context.Context, op string, action models.Action, req ActionRequest) (*models.WorkflowInstance, error) {
	current, template, steps, err := e.load(ctx, op, req.InstanceID, action)
	if err != nil {
		return nil, err
	}

	if req.StepNumber != 0 && req.StepNumber != current.CurrentStep {
		e.metrics.Conflict(string(action))

		return nil, services.Conflict(op,
			fmt.Sprintf("step %d is not the current step %d", req.StepNumber, current.CurrentStep), ErrStepMismatch)
	}

	if err := e.authorizeDecision(ctx, op, current, req.Actor); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	next := current.Clone()
	next.Record(action, req.Actor, req.Comments, now)

	kind := models.NotifyRejected

	switch {
	case action == models.ActionReject:
		next.Finish(models.StatusRejected, now)
	case steps.IsLast(current.CurrentStep):
		next.Finish(models.StatusApproved, now)

		kind = models.NotifyApproved
	default:
		following, ok := steps.At(current.CurrentStep + 1)
		if !ok {
			return nil, fmt.Errorf("%s: template %s has no step %d", op, template.ID, current.CurrentStep+1)
		}

		approvers, err := e.resolve(ctx, op, following.ApproverRole, following.ApproverContext, resourceOf(current))
		if err != nil {
			return nil, err
		}

		next.CurrentStep = following.StepNumber
		next.CurrentApprovers = approvers
		next.Status = models.StatusInProgress
		next.StepStartedAt = now

		kind = models.NotifyStepAdvanced
	}

	if err := e.commit(ctx, op, action, current, next); err != nil {
		return nil, err
	}

	e.afterCommit(ctx, template, effect{
		action:     action,
		actor:      req.Actor,
		comments:   req.Comments,
		stepNumber: current.CurrentStep,
		fromStatus: current.Status,
		toStatus:   next.Status,
		kind:       kind,
		instance:   next,
	})

	return next, nil
}

// authorizeDecision checks approver-set membership before the capability, so a
// user outside the set gets Unauthorized and a member lacking the capability gets Forbidden.
func (e *Engine) authorizeDecision(ctx context.Context, op string, instance *models.WorkflowInstance, actor string) error {
	if actor == "" {
		return services.Unauthorized(op, "acting user is required")
	}

	if !instance.IsApprover(actor) {
		override, err := e.permissions.Can(ctx, actor, models.CapabilityOverride)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if !override {
			return services.Unauthorized(op,
				fmt.Sprintf("user %s is not an approver of step %d", actor, instance.CurrentStep))
		}
	}

	allowed, err := e.permissions.Can(ctx, actor, models.CapabilityApprove)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !allowed {
		return services.Forbidden(op, fmt.Sprintf("user %s lacks capability %s", actor, models.CapabilityApprove))
	}

	return nil
}

// Cancel finishes a non-terminal instance as cancelled. The requester may always
// cancel; anyone else needs the cancel capability.
func (e *Engine) Cancel(ctx context.Context, id, actor, reason string) (*models.WorkflowInstance, error) {
	const op = "Cancel"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.Cancel",
		attribute.String(otelhelper.InstanceIDKey, id),
		attribute.String(otelhelper.ActorKey, actor),
	)
	defer span.End()

	instance, err := e.cancel(ctx, op, id, actor, reason)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String("error.kind", string(services.KindOf(err))))

		return nil, err
	}

	return instance, nil
}

func (e *Engine) cancel(ctx context.Context, op, id, actor, reason string) (*models.WorkflowInstance, error) {
	current, template, _, err := e.load(ctx, op, id, models.ActionCancel)
	if err != nil {
		return nil, err
	}

	if actor == "" {
		return nil, services.Unauthorized(op, "acting user is required")
	}

	if actor != current.RequestedBy {
		allowed, err := e.permissions.Can(ctx, actor, models.CapabilityCancel)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if !allowed {
			return nil, services.Forbidden(op,
				fmt.Sprintf("user %s did not request the workflow and lacks capability %s", actor, models.CapabilityCancel))
		}
	}

	now := e.now().UTC()
	next := current.Clone()
	next.Record(models.ActionCancel, actor, reason, now)
	next.Finish(models.StatusCancelled, now)

	if err := e.commit(ctx, op, models.ActionCancel, current, next); err != nil {
		return nil, err
	}

	e.afterCommit(ctx, template, effect{
		action:     models.ActionCancel,
		actor:      actor,
		comments:   reason,
		stepNumber: current.CurrentStep,
		fromStatus: current.Status,
		toStatus:   next.Status,
		kind:       models.NotifyCancelled,
		instance:   next,
	})

	return next, nil
}

// Overdue reports how far past its timeout the current step of instance is.
func Overdue(instance *models.WorkflowInstance, step models.Step, now time.Time) (time.Duration, bool) {
	timeout, ok := step.Timeout()
	if !ok || instance.Status.IsTerminal() {
		return 0, false
	}

	late := now.Sub(instance.StepStartedAt) - timeout
	if late < 0 {
		return 0, false
	}

	return late, true
}

// Escalate reassigns an overdue step to the holders of its escalation role and restarts
// the timeout window. The current step never changes. ErrNotDue and ErrNoEscalationRole
// report why nothing was written.
func (e *Engine) Escalate(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	const op = "Escalate"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.Escalate",
		attribute.String(otelhelper.InstanceIDKey, id),
	)
	defer span.End()

	current, template, steps, err := e.load(ctx, op, id, models.ActionEscalate)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	step, ok := steps.Current(current.CurrentStep)
	if !ok {
		return nil, fmt.Errorf("%s: template %s has no steps", op, template.ID)
	}

	now := e.now().UTC()

	if _, overdue := Overdue(current, step, now); !overdue {
		return current, ErrNotDue
	}

	if step.EscalateToRole == "" {
		return current, ErrNoEscalationRole
	}

	approvers, err := e.resolve(ctx, op, step.EscalateToRole, step.ApproverContext, resourceOf(current))
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	next := current.Clone()
	next.Record(models.ActionEscalate, models.SystemActor, "escalated to "+step.EscalateToRole, now)
	next.Status = models.StatusEscalated
	next.CurrentApprovers = approvers
	next.StepStartedAt = now
	next.EscalationCount++

	if err := e.commit(ctx, op, models.ActionEscalate, current, next); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "step escalated",
		"instance_id", id,
		"step", current.CurrentStep,
		"role", step.EscalateToRole,
		"approvers", len(approvers),
	)

	e.afterCommit(ctx, template, effect{
		action:     models.ActionEscalate,
		actor:      models.SystemActor,
		comments:   "escalated to " + step.EscalateToRole,
		stepNumber: current.CurrentStep,
		fromStatus: current.Status,
		toStatus:   next.Status,
		kind:       models.NotifyEscalated,
		instance:   next,
	})

	return next, nil
}

// Resync replays the resource status push for an instance.
func (e *Engine) Resync(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	const op = "Resync"

	instance, err := e.instances.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromPersistence(op, err)
	}

	if e.sync == nil {
		return instance, nil
	}

	if err := e.sync.Push(ctx, instance); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return instance, nil
}

// Get returns an instance.
func (e *Engine) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	instance, err := e.instances.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromPersistence("Get", err)
	}

	return instance, nil
}

func (e *Engine) load(ctx context.Context, op, id string, action models.Action) (*models.WorkflowInstance, *models.WorkflowTemplate, models.Steps, error) {
	instance, err := e.instances.GetByID(ctx, id)
	if err != nil {
		return nil, nil, models.Steps{}, services.FromPersistence(op, err)
	}

	if instance.Status.IsTerminal() {
		e.metrics.Conflict(string(action))

		return nil, nil, models.Steps{}, services.Conflict(op,
			fmt.Sprintf("instance %s is already %s", id, instance.Status), ErrTerminal)
	}

	template, err := e.templates.GetByID(ctx, instance.TemplateID)
	if err != nil {
		return nil, nil, models.Steps{}, fmt.Errorf("%s: failed to load template %s: %w", op, instance.TemplateID, err)
	}

	steps, err := template.Sequence()
	if err != nil {
		return nil, nil, models.Steps{}, fmt.Errorf("%s: template %s has invalid steps: %w", op, template.ID, err)
	}

	return instance, template, steps, nil
}

// commit writes next only if the stored instance still has the version that was read.
func (e *Engine) commit(ctx context.Context, op string, action models.Action, current, next *models.WorkflowInstance) error {
	if err := next.CheckInvariants(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := e.instances.Update(ctx, next, current.Version); err != nil {
		if persistence.IsVersionConflict(err) {
			e.metrics.Conflict(string(action))

			return services.Conflict(op, fmt.Sprintf("instance %s was modified concurrently", current.ID), err)
		}

		return services.FromPersistence(op, err)
	}

	e.metrics.Transition(string(action), string(next.Status))

	return nil
}

func resourceOf(instance *models.WorkflowInstance) models.ResourceRef {
	return models.ResourceRef{Type: instance.ResourceType, ID: instance.ResourceID, Name: instance.ResourceName}
}
