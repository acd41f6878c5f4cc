// Package models defines the core domain models for the approval workflow engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStepsRequired          = errors.New("template must have at least one step")
	ErrStepNumbering          = errors.New("step numbers must start at 1 and increase by one")
	ErrInvalidApproverContext = errors.New("invalid approver context")
	ErrApprovalTypeNotSupport = errors.New("approval type not supported")
	ErrApproverRoleRequired   = errors.New("approver role is required")
	ErrInvalidTimeout         = errors.New("timeout hours must be positive")
	ErrEscalationNeedsTimeout = errors.New("escalate_to_role requires timeout_hours")
)

// ApproverContext names the organizational scope used to filter eligible approvers.
type ApproverContext string

const (
	ContextOrganization ApproverContext = "organization"
	ContextBranch       ApproverContext = "branch"
	ContextRegion       ApproverContext = "region"
	ContextDepartment   ApproverContext = "department"
)

func (c ApproverContext) Valid() bool {
	switch c {
	case ContextOrganization, ContextBranch, ContextRegion, ContextDepartment:
		return true
	default:
		return false
	}
}

// ApprovalType decides how many approvers must act on a step.
type ApprovalType string

const (
	// ApprovalAny lets the first qualifying approver decide the step.
	ApprovalAny ApprovalType = "any"
	// ApprovalAll is reserved; templates using it are rejected.
	ApprovalAll ApprovalType = "all"
)

// Step is one stage of a template.
type Step struct {
	StepNumber      int             `json:"step_number"                validate:"required,min=1"`
	Name            string          `json:"name"                       validate:"required"`
	ApproverRole    string          `json:"approver_role"              validate:"required"`
	ApproverContext ApproverContext `json:"approver_context"           validate:"required"`
	ApprovalType    ApprovalType    `json:"approval_type,omitempty"`
	TimeoutHours    *int            `json:"timeout_hours,omitempty"`
	EscalateToRole  string          `json:"escalate_to_role,omitempty"`
}

// Timeout returns the step timeout and whether one is configured.
func (s Step) Timeout() (time.Duration, bool) {
	if s.TimeoutHours == nil || *s.TimeoutHours <= 0 {
		return 0, false
	}

	return time.Duration(*s.TimeoutHours) * time.Hour, true
}

// Steps is an immutable ordered step sequence indexed by step number.
// Updates replace the whole sequence through NewSteps.
type Steps struct {
	items []Step
}

// NewSteps validates and copies the given definitions into a sequence.
func NewSteps(defs []Step) (Steps, error) {
	if err := ValidateSteps(defs); err != nil {
		return Steps{}, err
	}

	items := make([]Step, len(defs))
	copy(items, defs)

	for i := range items {
		if items[i].ApprovalType == "" {
			items[i].ApprovalType = ApprovalAny
		}
	}

	return Steps{items: items}, nil
}

// Len returns the number of steps.
func (s Steps) Len() int {
	return len(s.items)
}

// At returns step n (1-based).
func (s Steps) At(n int) (Step, bool) {
	if n < 1 || n > len(s.items) {
		return Step{}, false
	}

	return s.items[n-1], true
}

// IsLast reports whether n is the final step. A step past the end, left behind
// when an update shortened the sequence, counts as final.
func (s Steps) IsLast(n int) bool {
	return n >= len(s.items)
}

// Current returns step n, or the last step when n is past the end.
func (s Steps) Current(n int) (Step, bool) {
	return s.At(min(n, len(s.items)))
}

// All returns a copy of the sequence.
func (s Steps) All() []Step {
	out := make([]Step, len(s.items))
	copy(out, s.items)

	return out
}

// ValidateSteps checks the structural rules of a step list.
func ValidateSteps(defs []Step) error {
	if len(defs) == 0 {
		return ErrStepsRequired
	}

	for i, step := range defs {
		if step.StepNumber != i+1 {
			return fmt.Errorf("%w: got %d at position %d", ErrStepNumbering, step.StepNumber, i+1)
		}

		if step.ApproverRole == "" {
			return fmt.Errorf("step %d: %w", step.StepNumber, ErrApproverRoleRequired)
		}

		if !step.ApproverContext.Valid() {
			return fmt.Errorf("step %d: %w: %q", step.StepNumber, ErrInvalidApproverContext, step.ApproverContext)
		}

		if step.ApprovalType != "" && step.ApprovalType != ApprovalAny {
			return fmt.Errorf("step %d: %w: %q", step.StepNumber, ErrApprovalTypeNotSupport, step.ApprovalType)
		}

		if step.TimeoutHours != nil && *step.TimeoutHours <= 0 {
			return fmt.Errorf("step %d: %w", step.StepNumber, ErrInvalidTimeout)
		}

		if step.EscalateToRole != "" && step.TimeoutHours == nil {
			return fmt.Errorf("step %d: %w", step.StepNumber, ErrEscalationNeedsTimeout)
		}
	}

	return nil
}

// WorkflowTemplate is the reusable definition of an approval step sequence for a resource type.
type WorkflowTemplate struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"                 validate:"required,min=3"`
	Description       string            `json:"description"`
	ResourceType      string            `json:"resource_type"        validate:"required"`
	TriggerConditions TriggerConditions `json:"trigger_conditions"`
	AutoStart         bool              `json:"auto_start"`
	NotifyOnStart     bool              `json:"notify_on_start"`
	NotifyOnComplete  bool              `json:"notify_on_complete"`
	Steps             []Step            `json:"steps"                validate:"required,min=1,dive"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Sequence returns the template steps as an indexed sequence.
func (t *WorkflowTemplate) Sequence() (Steps, error) {
	return NewSteps(t.Steps)
}
