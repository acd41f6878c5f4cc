package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusInProgress InstanceStatus = "in_progress"
	StatusApproved   InstanceStatus = "approved"
	StatusRejected   InstanceStatus = "rejected"
	StatusCancelled  InstanceStatus = "cancelled"
	StatusEscalated  InstanceStatus = "escalated"
)

// IsTerminal reports whether no further transitions are permitted.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func (s InstanceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusApproved, StatusRejected, StatusCancelled, StatusEscalated:
		return true
	default:
		return false
	}
}

// AllStatuses lists every instance status in lifecycle order.
func AllStatuses() []InstanceStatus {
	return []InstanceStatus{StatusPending, StatusInProgress, StatusEscalated, StatusApproved, StatusRejected, StatusCancelled}
}

// Action is a human or system decision applied to an instance.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionEscalate Action = "escalate"
	ActionStart    Action = "start"
)

// ParseAction accepts the caller-facing actions. Escalate and start are engine-internal.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	case ActionCancel:
		return ActionCancel, nil
	default:
		return "", fmt.Errorf("unknown action %q", raw)
	}
}

// SystemActor identifies engine-driven transitions.
const SystemActor = "system"

// StepAction is one entry in the append-only step log of an instance.
type StepAction struct {
	StepNumber int       `json:"step_number"`
	Action     Action    `json:"action"`
	Actor      string    `json:"actor"`
	Comments   string    `json:"comments,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowInstance is one execution of a template against a specific resource.
type WorkflowInstance struct {
	ID                     string         `json:"id"`
	TemplateID             string         `json:"template_id"`
	ResourceType           string         `json:"resource_type"`
	ResourceID             string         `json:"resource_id"`
	ResourceName           string         `json:"resource_name"`
	Status                 InstanceStatus `json:"status"`
	CurrentStep            int            `json:"current_step"`
	CurrentApprovers       []string       `json:"current_approvers"`
	StepsCompleted         []StepAction   `json:"steps_completed"`
	RequestedBy            string         `json:"requested_by,omitempty"`
	PreviousResourceStatus string         `json:"previous_resource_status,omitempty"`
	StepStartedAt          time.Time      `json:"step_started_at"`
	EscalationCount        int            `json:"escalation_count"`
	Version                int64          `json:"version"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	CompletedAt            *time.Time     `json:"completed_at,omitempty"`
}

// IsApprover reports whether user is in the current approver set.
func (w *WorkflowInstance) IsApprover(user string) bool {
	return slices.Contains(w.CurrentApprovers, user)
}

// Clone returns a deep copy safe to mutate.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	out := *w
	out.CurrentApprovers = slices.Clone(w.CurrentApprovers)
	out.StepsCompleted = slices.Clone(w.StepsCompleted)

	if w.CompletedAt != nil {
		completed := *w.CompletedAt
		out.CompletedAt = &completed
	}

	return &out
}

// Finish moves the instance to a terminal status. CompletedAt is only ever set once.
func (w *WorkflowInstance) Finish(status InstanceStatus, at time.Time) {
	w.Status = status

	if w.CompletedAt == nil {
		completed := at
		w.CompletedAt = &completed
	}

	w.CurrentApprovers = []string{}
}

// Record appends an entry to the step log.
func (w *WorkflowInstance) Record(action Action, actor, comments string, at time.Time) {
	w.StepsCompleted = append(w.StepsCompleted, StepAction{
		StepNumber: w.CurrentStep,
		Action:     action,
		Actor:      actor,
		Comments:   comments,
		Timestamp:  at,
	})
}

// CheckInvariants verifies completed_at is set exactly for terminal states.
func (w *WorkflowInstance) CheckInvariants() error {
	if w.Status.IsTerminal() != (w.CompletedAt != nil) {
		return fmt.Errorf("instance %s: completed_at inconsistent with status %s", w.ID, w.Status)
	}

	return nil
}

// InstanceStatistics aggregates instance counts.
type InstanceStatistics struct {
	Total          int64                       `json:"total"`
	ByStatus       map[InstanceStatus]int64    `json:"by_status"`
	ByResourceType map[string]int64            `json:"by_resource_type"`
	ByTypeStatus   map[string]map[string]int64 `json:"by_resource_type_and_status"`
}

// NewInstanceStatistics returns zeroed statistics.
func NewInstanceStatistics() *InstanceStatistics {
	stats := &InstanceStatistics{
		ByStatus:       map[InstanceStatus]int64{},
		ByResourceType: map[string]int64{},
		ByTypeStatus:   map[string]map[string]int64{},
	}

	for _, status := range AllStatuses() {
		stats.ByStatus[status] = 0
	}

	return stats
}

// Add counts count instances of the given type and status.
func (s *InstanceStatistics) Add(resourceType string, status InstanceStatus, count int64) {
	s.Total += count
	s.ByStatus[status] += count
	s.ByResourceType[resourceType] += count

	if s.ByTypeStatus[resourceType] == nil {
		s.ByTypeStatus[resourceType] = map[string]int64{}
	}

	s.ByTypeStatus[resourceType][string(status)] += count
}
