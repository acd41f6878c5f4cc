// Package web provides the HTTP handlers of the approval API.
package web

import (
	"time"

	"github.com/dukex/signoff/pkg/engine"
	"github.com/dukex/signoff/pkg/models"
)

// UserHeader carries the acting user. Authentication happens upstream.
const UserHeader = "X-User-ID"

// TemplateRequest is the body of template create and update.
type TemplateRequest struct {
	Name              string                   `json:"name"               validate:"required,min=3"`
	Description       string                   `json:"description"`
	ResourceType      string                   `json:"resource_type"      validate:"required"`
	TriggerConditions models.TriggerConditions `json:"trigger_conditions"`
	AutoStart         bool                     `json:"auto_start"`
	NotifyOnStart     bool                     `json:"notify_on_start"`
	NotifyOnComplete  bool                     `json:"notify_on_complete"`
	Steps             []models.Step            `json:"steps"              validate:"required,min=1,dive"`
}

func (r TemplateRequest) toModel() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		Name:              r.Name,
		Description:       r.Description,
		ResourceType:      r.ResourceType,
		TriggerConditions: r.TriggerConditions,
		AutoStart:         r.AutoStart,
		NotifyOnStart:     r.NotifyOnStart,
		NotifyOnComplete:  r.NotifyOnComplete,
		Steps:             r.Steps,
	}
}

// CreateWorkflowRequest starts an instance manually.
type CreateWorkflowRequest struct {
	TemplateID             string `json:"template_id"              validate:"required"`
	ResourceType           string `json:"resource_type"            validate:"required"`
	ResourceID             string `json:"resource_id"              validate:"required"`
	ResourceName           string `json:"resource_name"`
	PreviousResourceStatus string `json:"previous_resource_status"`
}

// DecisionRequest is the body of approve and reject.
type DecisionRequest struct {
	Comments   string `json:"comments"`
	StepNumber int    `json:"step_number" validate:"min=0"`
}

// CancelRequest is the body of cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ActionRequest applies a named action to one instance.
type ActionRequest struct {
	Action     string `json:"action"      validate:"required"`
	Comments   string `json:"comments"`
	StepNumber int    `json:"step_number" validate:"min=0"`
}

// BulkActionRequest applies one action to many instances.
type BulkActionRequest struct {
	WorkflowIDs []string `json:"workflow_ids" validate:"required,min=1,max=500,dive,required"`
	Action      string   `json:"action"       validate:"required"`
	Comments    string   `json:"comments"`
}

// BulkActionResponse carries per-instance results in request order.
type BulkActionResponse struct {
	Results []engine.BulkResult `json:"results"`
	Summary engine.BulkSummary  `json:"summary"`
}

// ResourceEventRequest reports a completed resource.
type ResourceEventRequest struct {
	ResourceType   string         `json:"resource_type"   validate:"required"`
	ResourceID     string         `json:"resource_id"     validate:"required"`
	ResourceName   string         `json:"resource_name"`
	Attributes     map[string]any `json:"attributes"`
	PreviousStatus string         `json:"previous_status"`
}

// CreateDelegationRequest delegates the acting user's approvals.
type CreateDelegationRequest struct {
	DelegateToUserID string    `json:"delegate_to_user_id" validate:"required"`
	ValidFrom        time.Time `json:"valid_from"          validate:"required"`
	ValidUntil       time.Time `json:"valid_until"         validate:"required"`
	WorkflowTypes    []string  `json:"workflow_types"`
	Reason           string    `json:"reason"`
}
