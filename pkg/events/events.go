// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/signoff/pkg/models"
)

type EventType string

const Topic = "signoff.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Outbound approval lifecycle events.
	WorkflowStartedEvent      EventType = "workflow.started"
	WorkflowStepAdvancedEvent EventType = "workflow.step_advanced"
	WorkflowApprovedEvent     EventType = "workflow.approved"
	WorkflowRejectedEvent     EventType = "workflow.rejected"
	WorkflowCancelledEvent    EventType = "workflow.cancelled"
	WorkflowEscalatedEvent    EventType = "workflow.escalated"

	// EscalationOverdueEvent signals an overdue step with no escalation role.
	EscalationOverdueEvent EventType = "escalation.overdue"

	// Resource events.
	ResourceCompletedEvent     EventType = "resource.completed"
	ResourceStatusChangedEvent EventType = "resource.status_changed"
)

// NotificationEventType maps a notification kind onto its event type.
func NotificationEventType(kind models.NotificationKind) EventType {
	return EventType("workflow." + string(kind))
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(id string, eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// WorkflowNotification carries one lifecycle notification to downstream dispatchers.
type WorkflowNotification struct {
	BaseEvent

	InstanceID   string                  `json:"instance_id"`
	TemplateID   string                  `json:"template_id"`
	ResourceType string                  `json:"resource_type"`
	ResourceID   string                  `json:"resource_id"`
	ResourceName string                  `json:"resource_name,omitempty"`
	Kind         models.NotificationKind `json:"kind"`
	Status       models.InstanceStatus   `json:"status"`
	CurrentStep  int                     `json:"current_step"`
	Actor        string                  `json:"actor"`
	Recipients   []string                `json:"recipients,omitempty"`
	Comments     string                  `json:"comments,omitempty"`
}

func (w WorkflowNotification) GetType() EventType {
	return w.Type
}

// EscalationOverdue reports a step past its timeout that could not be escalated.
type EscalationOverdue struct {
	BaseEvent

	InstanceID   string        `json:"instance_id"`
	ResourceType string        `json:"resource_type"`
	ResourceID   string        `json:"resource_id"`
	StepNumber   int           `json:"step_number"`
	Overdue      time.Duration `json:"overdue"`
	Reason       string        `json:"reason"`
}

func (e EscalationOverdue) GetType() EventType {
	return EscalationOverdueEvent
}

// ResourceCompleted is published by a resource owner when a resource becomes eligible for approval.
type ResourceCompleted struct {
	BaseEvent

	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	ResourceName   string         `json:"resource_name,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	RequestedBy    string         `json:"requested_by,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
}

func (r ResourceCompleted) GetType() EventType {
	return ResourceCompletedEvent
}

// ResourceStatusChanged asks the owning store to set a resource status.
type ResourceStatusChanged struct {
	BaseEvent

	ResourceType   string `json:"resource_type"`
	ResourceID     string `json:"resource_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	InstanceID     string `json:"instance_id,omitempty"`
}

func (r ResourceStatusChanged) GetType() EventType {
	return ResourceStatusChangedEvent
}
