package models

import "time"

// AuditEntry is an append-only record of one transition.
type AuditEntry struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Action     Action         `json:"action"`
	Actor      string         `json:"actor"`
	StepNumber int            `json:"step_number"`
	FromStatus InstanceStatus `json:"from_status,omitempty"`
	ToStatus   InstanceStatus `json:"to_status"`
	Comments   string         `json:"comments,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NotificationKind names the lifecycle moment a notification reports.
type NotificationKind string

const (
	NotifyStarted      NotificationKind = "started"
	NotifyStepAdvanced NotificationKind = "step_advanced"
	NotifyApproved     NotificationKind = "approved"
	NotifyRejected     NotificationKind = "rejected"
	NotifyCancelled    NotificationKind = "cancelled"
	NotifyEscalated    NotificationKind = "escalated"
)

// Notification is handed to the dispatcher after a committed transition.
type Notification struct {
	Kind       NotificationKind  `json:"kind"`
	Actor      string            `json:"actor"`
	Recipients []string          `json:"recipients,omitempty"`
	Instance   *WorkflowInstance `json:"instance"`
	Comments   string            `json:"comments,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
