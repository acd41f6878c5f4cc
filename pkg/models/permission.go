package models

// Capability is a named permission checked before a mutation.
type Capability string

const (
	CapabilityApprove  Capability = "approve_workflows"
	CapabilityCancel   Capability = "cancel_workflows"
	CapabilityOverride Capability = "override_workflow_approvals"
)
