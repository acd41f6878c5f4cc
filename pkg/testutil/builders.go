// Package testutil provides test data builders shared by package tests.
package testutil

import (
	"time"

	"github.com/dukex/signoff/pkg/models"
	"github.com/google/uuid"
)

// Hours returns a pointer for Step.TimeoutHours.
func Hours(h int) *int {
	return &h
}

// Step builds a step with the "any" approval type.
func Step(number int, role string, context models.ApproverContext) models.Step {
	return models.Step{
		StepNumber:      number,
		Name:            role + " review",
		ApproverRole:    role,
		ApproverContext: context,
		ApprovalType:    models.ApprovalAny,
	}
}

// CreateTestTemplate returns a two step inspection template: a branch supervisor
// followed by an organization-wide manager.
func CreateTestTemplate(overrides ...func(*models.WorkflowTemplate)) *models.WorkflowTemplate {
	template := &models.WorkflowTemplate{
		ID:               uuid.NewString(),
		Name:             "Inspection sign-off",
		Description:      "Supervisor then manager",
		ResourceType:     "inspection",
		NotifyOnStart:    true,
		NotifyOnComplete: true,
		Steps: []models.Step{
			Step(1, "supervisor", models.ContextBranch),
			Step(2, "manager", models.ContextOrganization),
		},
	}

	for _, override := range overrides {
		override(template)
	}

	return template
}

// WithSteps replaces the template steps.
func WithSteps(steps ...models.Step) func(*models.WorkflowTemplate) {
	return func(t *models.WorkflowTemplate) {
		t.Steps = steps
	}
}

// WithTrigger sets the trigger conditions from the shorthand expression.
func WithTrigger(expr string) func(*models.WorkflowTemplate) {
	return func(t *models.WorkflowTemplate) {
		conditions, err := models.ParseTriggerExpression(expr)
		if err != nil {
			panic(err)
		}

		t.TriggerConditions = conditions
	}
}

// CreateTestDelegation returns a delegation valid for the day around now.
func CreateTestDelegation(delegator, delegate string, now time.Time, overrides ...func(*models.Delegation)) *models.Delegation {
	delegation := &models.Delegation{
		DelegatorUserID:  delegator,
		DelegateToUserID: delegate,
		ValidFrom:        now.Add(-12 * time.Hour),
		ValidUntil:       now.Add(12 * time.Hour),
		Reason:           "vacation",
	}

	for _, override := range overrides {
		override(delegation)
	}

	return delegation
}
