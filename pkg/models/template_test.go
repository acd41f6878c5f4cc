package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestValidateSteps(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr error
	}{
		{
			name:    "empty steps",
			steps:   nil,
			wantErr: ErrStepsRequired,
		},
		{
			name: "valid two steps",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch},
				{StepNumber: 2, Name: "sign", ApproverRole: "manager", ApproverContext: ContextOrganization, ApprovalType: ApprovalAny},
			},
		},
		{
			name: "gap in numbering",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch},
				{StepNumber: 3, Name: "sign", ApproverRole: "manager", ApproverContext: ContextOrganization},
			},
			wantErr: ErrStepNumbering,
		},
		{
			name: "zero based",
			steps: []Step{
				{StepNumber: 0, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch},
			},
			wantErr: ErrStepNumbering,
		},
		{
			name: "unknown context",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: "planet"},
			},
			wantErr: ErrInvalidApproverContext,
		},
		{
			name: "all approval type",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch, ApprovalType: ApprovalAll},
			},
			wantErr: ErrApprovalTypeNotSupport,
		},
		{
			name: "missing role",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverContext: ContextBranch},
			},
			wantErr: ErrApproverRoleRequired,
		},
		{
			name: "non positive timeout",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch, TimeoutHours: intPtr(0)},
			},
			wantErr: ErrInvalidTimeout,
		},
		{
			name: "escalation without timeout",
			steps: []Step{
				{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch, EscalateToRole: "manager"},
			},
			wantErr: ErrEscalationNeedsTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSteps(tt.steps)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSteps_IndexedAccess(t *testing.T) {
	defs := []Step{
		{StepNumber: 1, Name: "review", ApproverRole: "supervisor", ApproverContext: ContextBranch},
		{StepNumber: 2, Name: "sign", ApproverRole: "manager", ApproverContext: ContextOrganization},
	}

	steps, err := NewSteps(defs)
	require.NoError(t, err)

	assert.Equal(t, 2, steps.Len())

	first, ok := steps.At(1)
	require.True(t, ok)
	assert.Equal(t, "supervisor", first.ApproverRole)
	assert.Equal(t, ApprovalAny, first.ApprovalType)

	_, ok = steps.At(0)
	assert.False(t, ok)
	_, ok = steps.At(3)
	assert.False(t, ok)

	assert.False(t, steps.IsLast(1))
	assert.True(t, steps.IsLast(2))
	assert.True(t, steps.IsLast(3), "a step dropped by an update counts as final")

	current, ok := steps.Current(3)
	require.True(t, ok)
	assert.Equal(t, 2, current.StepNumber)

	current, ok = steps.Current(1)
	require.True(t, ok)
	assert.Equal(t, 1, current.StepNumber)

	// mutating the input must not leak into the sequence
	defs[0].ApproverRole = "changed"
	first, _ = steps.At(1)
	assert.Equal(t, "supervisor", first.ApproverRole)

	all := steps.All()
	all[1].ApproverRole = "changed"
	second, _ := steps.At(2)
	assert.Equal(t, "manager", second.ApproverRole)
}

func TestStep_Timeout(t *testing.T) {
	d, ok := Step{}.Timeout()
	assert.False(t, ok)
	assert.Zero(t, d)

	d, ok = Step{TimeoutHours: intPtr(24)}.Timeout()
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)
}

func TestTriggerConditions_Matches(t *testing.T) {
	tests := []struct {
		name       string
		conditions TriggerConditions
		attributes map[string]any
		want       bool
	}{
		{
			name:       "empty matches everything",
			conditions: TriggerConditions{},
			attributes: map[string]any{"anything": 1},
			want:       true,
		},
		{
			name:       "string true matches bool true",
			conditions: TriggerConditions{Match: map[string]any{"requires_approval": "true"}},
			attributes: map[string]any{"requires_approval": true},
			want:       true,
		},
		{
			name:       "mismatch",
			conditions: TriggerConditions{Match: map[string]any{"requires_approval": "true"}},
			attributes: map[string]any{"requires_approval": false},
			want:       false,
		},
		{
			name:       "missing attribute",
			conditions: TriggerConditions{Match: map[string]any{"requires_approval": "true"}},
			attributes: map[string]any{},
			want:       false,
		},
		{
			name: "schema satisfied",
			conditions: TriggerConditions{Schema: map[string]any{
				"type":     "object",
				"required": []any{"score"},
				"properties": map[string]any{
					"score": map[string]any{"type": "number", "maximum": 80},
				},
			}},
			attributes: map[string]any{"score": 42},
			want:       true,
		},
		{
			name: "schema violated",
			conditions: TriggerConditions{Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"score": map[string]any{"type": "number", "maximum": 80},
				},
			}},
			attributes: map[string]any{"score": 95},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.conditions.Matches(tt.attributes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerConditions_UnmarshalShorthand(t *testing.T) {
	var tmpl WorkflowTemplate

	err := json.Unmarshal([]byte(`{"name":"inspection","trigger_conditions":"requires_approval=true, area=north"}`), &tmpl)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"requires_approval": "true", "area": "north"}, tmpl.TriggerConditions.Match)

	err = json.Unmarshal([]byte(`{"trigger_conditions":{"match":{"kind":"audit"}}}`), &tmpl)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kind": "audit"}, tmpl.TriggerConditions.Match)

	_, err = ParseTriggerExpression("broken")
	assert.Error(t, err)
}

func TestTriggerConditions_Validate(t *testing.T) {
	assert.NoError(t, TriggerConditions{}.Validate())
	assert.NoError(t, TriggerConditions{Schema: map[string]any{"type": "object"}}.Validate())
	assert.Error(t, TriggerConditions{Schema: map[string]any{"type": 12}}.Validate())
}
