package models

import (
	"slices"
	"time"
)

// DelegationStatus is derived from the validity window and revocation.
type DelegationStatus string

const (
	DelegationScheduled DelegationStatus = "scheduled"
	DelegationActive    DelegationStatus = "active"
	DelegationExpired   DelegationStatus = "expired"
	DelegationRevoked   DelegationStatus = "revoked"
)

// Delegation lets a second user act as approver on behalf of the delegator for a bounded time.
type Delegation struct {
	ID               string     `json:"id"`
	DelegatorUserID  string     `json:"delegator_user_id"   validate:"required"`
	DelegateToUserID string     `json:"delegate_to_user_id" validate:"required,nefield=DelegatorUserID"`
	ValidFrom        time.Time  `json:"valid_from"          validate:"required"`
	ValidUntil       time.Time  `json:"valid_until"         validate:"required"`
	WorkflowTypes    []string   `json:"workflow_types,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedBy        string     `json:"revoked_by,omitempty"`
}

// AppliesTo reports whether the delegation covers the workflow type. An empty filter covers all.
func (d *Delegation) AppliesTo(workflowType string) bool {
	return len(d.WorkflowTypes) == 0 || slices.Contains(d.WorkflowTypes, workflowType)
}

// EffectiveAt reports whether the delegation can be used at t for the workflow type.
// Both bounds are inclusive.
func (d *Delegation) EffectiveAt(t time.Time, workflowType string) bool {
	if d.RevokedAt != nil {
		return false
	}

	if t.Before(d.ValidFrom) || t.After(d.ValidUntil) {
		return false
	}

	return d.AppliesTo(workflowType)
}

// Status returns the delegation status at t.
func (d *Delegation) Status(t time.Time) DelegationStatus {
	switch {
	case d.RevokedAt != nil:
		return DelegationRevoked
	case t.Before(d.ValidFrom):
		return DelegationScheduled
	case t.After(d.ValidUntil):
		return DelegationExpired
	default:
		return DelegationActive
	}
}
